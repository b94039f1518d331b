package main

import (
	"godric-backend/cmd/godric/commands"
	"godric-backend/lib/osutil"
)

func main() {
	commands.ExecuteContext(osutil.SignalContext())
}
