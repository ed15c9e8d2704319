package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/server"
)

func main() {
	parser := argparse.NewParser("signserver", "Traffic sign detection service")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML config file. Without one, defaults are used", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP listen address, eg :8000"})
	model := parser.String("", "model", &argparse.Options{Help: "Model weights file"})
	backend := parser.String("", "backend", &argparse.Options{Help: "NN backend (onnx or remote)"})
	classes := parser.String("", "classes", &argparse.Options{Help: "Class table (YOLO data.yaml, or .txt with one class per line)"})
	signInfo := parser.String("", "signinfo", &argparse.Options{Help: "Sign description file (code | name | meaning)"})
	signImages := parser.String("", "signimages", &argparse.Options{Help: "Directory of <code>.png sign illustrations"})
	wwwDir := parser.String("", "www", &argparse.Options{Help: "Directory of the frontend single page app"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	override := func(dst *string, flag string) {
		if flag != "" {
			*dst = flag
		}
	}
	override(&cfg.Listen, *listen)
	override(&cfg.Model, *model)
	override(&cfg.Backend, *backend)
	override(&cfg.ClassFile, *classes)
	override(&cfg.SignInfoFile, *signInfo)
	override(&cfg.SignImagesDir, *signImages)
	override(&cfg.WWWDir, *wwwDir)

	srv, err := server.Open(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = srv.ListenHTTP(cfg.Listen)
	if !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
	}
	<-srv.ShutdownComplete
	logger.Close()
	if !errors.Is(err, http.ErrServerClosed) {
		os.Exit(1)
	}
}
