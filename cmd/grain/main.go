package main

import (
	_ "net/http/pprof"

	"github.com/pierrelefevre/grain/registry"
	_ "github.com/pierrelefevre/grain/registry/auth/userfile"
	_ "github.com/pierrelefevre/grain/registry/storage/driver/filesystem"
)

func main() {
	// nolint:errcheck
	registry.RootCmd.Execute()
}
