package browser

import (
	"fmt"
	"godric-backend/lib/osutil"
	"net"
	"strings"
)

type Kind int

const (
	Firefox Kind = iota
	Chrome
	Chromium
	Edge
	InternetExplorer
	Opera
	Safari
)

var kindNames = map[Kind]string{
	Firefox:          "firefox",
	Chrome:           "chrome",
	Chromium:         "chromium",
	Edge:             "edge",
	InternetExplorer: "ie",
	Opera:            "opera",
	Safari:           "safari",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return name
}

func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "internet explorer", "internetexplorer":
		return InternetExplorer, nil
	case "msedge", "microsoftedge":
		return Edge, nil
	}
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown browser %q", name)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Chromium reports whether the browser speaks the chrome devtools protocol.
func (k Kind) Chromium() bool {
	switch k {
	case Chrome, Chromium, Edge, Opera:
		return true
	}
	return false
}

// DriverName is the executable name of the browser's webdriver, including the
// platform suffix.
func (k Kind) DriverName() string {
	var name string
	switch k {
	case Firefox:
		name = "geckodriver"
	case Chrome, Chromium:
		name = "chromedriver"
	case Edge:
		name = "msedgedriver"
	case InternetExplorer:
		name = "IEDriverServer"
	case Opera:
		name = "operadriver"
	case Safari:
		name = "safaridriver"
	}
	return osutil.ExecutableName(name)
}

// DefaultAddress is where the driver listens when started without arguments.
func (k Kind) DefaultAddress() string {
	switch k {
	case Firefox:
		return "127.0.0.1:4444"
	case InternetExplorer:
		return "127.0.0.1:5555"
	}
	return "127.0.0.1:9515"
}

// DriverArgs binds the driver to `address`.
func (k Kind) DriverArgs(address string) ([]string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	switch k {
	case Firefox:
		return []string{"--host", host, "--port", port}, nil
	case InternetExplorer:
		return []string{"/host=" + host, "/port=" + port}, nil
	case Safari:
		return []string{"--port", port}, nil
	}
	return []string{"--port=" + port}, nil
}

// Capabilities are the W3C capabilities requested for a new session.
func (k Kind) Capabilities(headless bool) map[string]any {
	caps := map[string]any{}
	var args []string

	switch k {
	case Firefox:
		caps["browserName"] = "firefox"
		if headless {
			args = []string{"-headless"}
		}
		caps["moz:firefoxOptions"] = map[string]any{"args": nonNil(args)}
	case Chrome, Chromium, Opera:
		caps["browserName"] = "chrome"
		if k == Opera {
			caps["browserName"] = "opera"
		}
		if headless {
			args = []string{"--headless=new"}
		}
		caps["goog:chromeOptions"] = map[string]any{"args": nonNil(args)}
	case Edge:
		caps["browserName"] = "MicrosoftEdge"
		if headless {
			args = []string{"--headless=new"}
		}
		caps["ms:edgeOptions"] = map[string]any{"args": nonNil(args)}
	case InternetExplorer:
		caps["browserName"] = "internet explorer"
	case Safari:
		caps["browserName"] = "safari"
	}
	return caps
}

func nonNil(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}
