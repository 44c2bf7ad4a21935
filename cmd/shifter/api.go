// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/api"
	"github.com/korrel8r/shifter/pkg/config"
	"github.com/korrel8r/shifter/pkg/modules"
	"github.com/korrel8r/shifter/pkg/translate"
	"github.com/prometheus/client_golang/prometheus"
)

// signalContext is canceled on interrupt or terminate.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newTranslator() *translate.Translator {
	log.V(2).Info("create translator")
	return must.Must1(translate.New(modules.All, translate.DefaultCacheSize))
}

// loadConfigs loads the --config file, returns nil if there is none.
func loadConfigs() config.Configs {
	if *configFlag == "" {
		return nil
	}
	log.V(1).Info("load configuration", "config", *configFlag)
	return must.Must1(config.Load(*configFlag))
}

// newAPI creates an API with the --config sources, router may be nil.
func newAPI(reg *prometheus.Registry, router *gin.Engine) *api.API {
	return must.Must1(api.New(newTranslator(), loadConfigs(), reg, router))
}

// argData returns arg, or the contents of stdin if arg is "-".
func argData(arg string) string {
	if arg != "-" {
		return arg
	}
	return string(must.Must1(io.ReadAll(os.Stdin)))
}
