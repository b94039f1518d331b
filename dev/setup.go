package main

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `{
  // local overrides belong in godric.local.json5
  driver: {
    browser: "firefox",
    address: "127.0.0.1:4444",
    headless: true,
    protocol: "webdriver",
    remote: false,
  },
  site: {
    base_url: "https://www.goodreads.com",
    shelf: "to-read",
  },
  timeouts: {
    connect: "30s",
    element: "10s",
    http: "30s",
  },
  pipeline: {
    settle_delay_ms: 50,
  },
}
`

const dotenvTemplate = `GODRIC_EMAIL=
GODRIC_PASSWORD=
`

func writeIfMissing(path, contents string, mode os.FileMode) error {
	_, err := os.Stat(path)
	if err == nil {
		fmt.Println("already exists:", path)
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	fmt.Println("writing", path)
	return os.WriteFile(path, []byte(contents), mode)
}

func CreateDefaultConfig() error {
	return writeIfMissing("godric.json5", configTemplate, 0644)
}

func CreateDotenv() error {
	return writeIfMissing(".env", dotenvTemplate, 0600)
}

func CreateStateDirs() error {
	return os.MkdirAll(filepath.Join("dev", ".state", "http"), 0777)
}
