package main

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer/db"
)

func cmd(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fullCmd := name
	for _, a := range args {
		fullCmd += " "
		fullCmd += a
	}

	fmt.Printf("$ %s\n", fullCmd)
	err := cmd.Run()
	if err != nil {
		os.Exit(1)
	}
}

// CreateLocalStack brings up the containers ccpipe can talk to
// locally: minio for run archives and a fake smtp server for run
// reports.
func CreateLocalStack() error {
	err := os.Chdir("dev/local_stack")
	if err != nil {
		return err
	}
	cmd("docker", "compose", "up", "-d")
	return os.Chdir("../..")
}

// CreateCacheDB seeds an empty gazetteer cache so a dev config can
// point at a database that already has its schema applied.
func CreateCacheDB() error {
	path := "dev/.state/cache.db"
	_, err := os.Stat(path)
	if err == nil {
		fmt.Println("database already created at", path)
		return nil
	}

	fmt.Println("creating database at", path)
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Exec(db.Schema)
	return err
}

func PrintConfigHint() {
	fmt.Println(`point config.local.json5 at the local stack:

{
  cache: { file: "dev/.state/cache.db" },
  archive: {
    endpoint: "127.0.0.1:9000",
    access_key: "minioadmin",
    secret_key: "minioadmin",
    bucket: "citizen-connect-dev",
  },
  notify: {
    smtp: { server: "127.0.0.1", port: 1025, email_address: "ccpipe@localhost" },
    to: ["dev@localhost"],
  },
}

census and socrata credentials are read from the environment:
CENSUS_API_KEY, SOCRATA_KEY_ID, SOCRATA_KEY_SECRET.`)
}
