package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSmtp(t *testing.T) Mailer {
	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	smtp, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			Started: true,
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "haravich/fake-smtp-server",
				ExposedPorts: []string{"1025:1025", "1080:1080"},
				WaitingFor:   wait.ForLog("smtp://0.0.0.0:1025"),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		err := smtp.Terminate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	})

	return NewMailer(Config{
		Smtp: SmtpConfig{
			Server:       "localhost",
			Port:         1025,
			EmailAddress: "pipeline@example.org",
			Password:     "default",
		},
		To: []string{"data-team@example.org"},
	})
}

var globalClient = resty.New()

func fetchMessage(t *testing.T) string {
	res, err := globalClient.R().
		Get("http://127.0.0.1:1080/messages/1.plain")
	if err != nil {
		t.Fatal(err)
	}
	return res.String()
}

func TestRunSucceeded(t *testing.T) {
	mailer := setupSmtp(t)

	err := mailer.RunSucceeded(RunReport{
		Sources:      []string{"ACS5"},
		Rows:         221456,
		RevisionUrls: []string{"https://nhit-odp.data.socrata.com/d/enbi-fu9w/revisions/7"},
		Took:         4*time.Minute + 12*time.Second,
	})
	require.NoError(t, err)

	body := fetchMessage(t)
	require.Contains(t, body, "finished successfully")
	require.Contains(t, body, "ACS5")
	require.Contains(t, body, "221456")
	require.Contains(t, body, "revisions/7")
}

func TestRunFailed(t *testing.T) {
	mailer := setupSmtp(t)

	err := mailer.RunFailed("ACS5", "validate", errors.New("schema validation failed with 3 violations"))
	require.NoError(t, err)

	body := fetchMessage(t)
	require.Contains(t, body, "was not modified")
	require.Contains(t, body, "Source: ACS5")
	require.Contains(t, body, "Stage: validate")
	require.Contains(t, body, "3 violations")
}

func TestDisabledConfig(t *testing.T) {
	require.False(t, Config{}.Enabled())
	require.False(t, Config{Smtp: SmtpConfig{Server: "localhost"}}.Enabled())
	require.True(t, Config{
		Smtp: SmtpConfig{Server: "localhost"},
		To:   []string{"data-team@example.org"},
	}.Enabled())
}
