/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"github.com/alecthomas/kong"

	"github.com/tibanode/tibanode-client/lib"
	"github.com/tibanode/tibanode-client/lib/logger"
)

const (
	appName        = "tibanode"
	appDescription = "Command line client for the TibaNode clinic API"
)

func main() {
	logger.Init()

	var cli CLI
	ctx := kong.Parse(
		&cli,
		kong.UsageOnError(),
		kong.Configuration(KongTOMLResolver),
		kong.Name(appName),
		kong.Description(appDescription),
	)

	if err := logger.Setup(cli.LoggerConfig()); err != nil {
		lib.Bail(err)
	}
	if err := cli.CheckAndSetDefaults(); err != nil {
		lib.Bail(err)
	}

	// See respective commands Run() methods
	if err := ctx.Run(&cli.Globals); err != nil {
		lib.Bail(err)
	}
}
