package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
)

func printScripts() {
	fmt.Println("Scripts:")
	for key := range scriptMap {
		fmt.Println("\t" + key)
	}
}

func main() {
	flag.Parse()

	script := flag.Arg(0)
	fn, ok := scriptMap[script]
	if !ok {
		fmt.Printf(
			"you must specify a valid script, '%s' is not a valid script.\n",
			script,
		)
		printScripts()
		os.Exit(1)
	}

	fn()
}

func cmd(env []string, name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), env...)

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

var scriptMap = map[string]func(){
	"dev:selenium":    startSelenium,
	"test:containers": containerTests,
}

func startSelenium() {
	cmd(
		nil,
		"docker", "run", "-d", "--rm",
		"--name", "godric-selenium",
		"-p", "4444:4444",
		"--shm-size", "2g",
		"selenium/standalone-firefox:latest",
	)
}

func containerTests() {
	cmd(
		[]string{"GODRIC_CONTAINER_TESTS=1"},
		"go", "test", "-v", "-run", "Container", "./...",
	)
}
