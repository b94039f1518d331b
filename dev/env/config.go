package devenv

// SeleniumTestConfig points the live browser tests at an already running
// selenium or driver endpoint instead of starting a container.
type SeleniumTestConfig struct {
	Address string `json:"address"`
	Browser string `json:"browser"`
}

const SeleniumTestConfigFile = "selenium_test_config.json5"
