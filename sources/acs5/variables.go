package acs5

import "fmt"

// defaultVariables reproduces the production variable list.
func defaultVariables() []string {
	variables := []string{
		// median age, the code moved at 2017
		"DP05_0017E",
		"DP05_0018E",
		// population 60 years and over, same move
		"S0101_C01_026E",
		"S0101_C01_028E",
		// population by sex
		"DP05_0002E",
		"DP05_0003E",
	}
	// population by race
	for n := 2; n <= 8; n++ {
		variables = append(variables, fmt.Sprintf("B02001_%03dE", n))
	}
	variables = append(variables,
		// median household income in the past 12 months
		"S1903_C03_001E",
		// population below poverty level in the past 12 months
		"S1701_C02_001E",
	)
	// civilian occupation, 16 years and over
	for n := 2; n <= 36; n++ {
		variables = append(variables, fmt.Sprintf("S2401_C01_%03dE", n))
	}
	// ancestry
	for n := 2; n <= 107; n++ {
		variables = append(variables, fmt.Sprintf("B04006_%03dE", n))
	}
	variables = append(variables,
		// foreign-born and non-citizen population
		"DP02_0092E",
		"DP02_0095E",
	)
	// language spoken at home, the per-language group totals
	variables = append(variables, "C16001_002E")
	for n := 3; n <= 36; n += 3 {
		variables = append(variables, fmt.Sprintf("C16001_%03dE", n))
	}
	variables = append(variables,
		// percent high school graduate or higher
		"S1501_C01_014E",
		// population with a disability
		"S1810_C02_001E",
		// households with no internet access
		"B28002_013E",
	)
	return variables
}

type validityWindow struct {
	from int
	to   int
}

// Variable codes that changed meaning between vintages. The retired
// code and its replacement are both in the default list, the window
// keeps each one out of the years where the other is authoritative.
var validityWindows = map[string]validityWindow{
	"DP05_0017E":     {to: 2016},
	"S0101_C01_026E": {to: 2016},
	"DP05_0018E":     {from: 2017},
	"S0101_C01_028E": {from: 2017},
}

func variableValidIn(variable string, year int) bool {
	window, ok := validityWindows[variable]
	if !ok {
		return true
	}
	if window.from != 0 && year < window.from {
		return false
	}
	if window.to != 0 && year > window.to {
		return false
	}
	return true
}
