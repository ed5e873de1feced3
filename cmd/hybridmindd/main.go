package main

import (
	"github.com/matheus3301/hybridmind/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		daemon.Module(),
	)

	app.Run()
}
