package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadsign/pkg/imagex"
	"github.com/cyclopcam/roadsign/pkg/nn"
	"github.com/cyclopcam/roadsign/pkg/nnload"
	"github.com/cyclopcam/roadsign/pkg/signdet"
	"github.com/cyclopcam/roadsign/pkg/signs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("signpredict", "Detect traffic signs in an image file, and print the result as JSON")
	input := parser.String("i", "input", &argparse.Options{Help: "Input image file", Required: true})
	model := parser.String("n", "model", &argparse.Options{Help: "Model weights file", Required: true})
	backend := parser.String("", "backend", &argparse.Options{Help: "NN backend (onnx or remote)", Default: nnload.BackendONNX})
	remoteURL := parser.String("", "remote", &argparse.Options{Help: "Inference sidecar URL, for the remote backend", Default: ""})
	onnxLib := parser.String("", "onnxlib", &argparse.Options{Help: "Path to libonnxruntime.so", Default: ""})
	classes := parser.String("c", "classes", &argparse.Options{Help: "Class table (YOLO data.yaml, or .txt)", Default: "data.yaml"})
	signInfo := parser.String("", "signinfo", &argparse.Options{Help: "Sign description file", Default: "Thong-tin-bien-bao.txt"})
	confidence := parser.Float("", "conf", &argparse.Options{Help: "Confidence threshold", Default: float64(signdet.DefaultConfidenceThreshold)})
	iou := parser.Float("", "iou", &argparse.Options{Help: "IoU threshold for duplicate suppression", Default: float64(signdet.DefaultIoUThreshold)})
	tiled := parser.Flag("", "tiled", &argparse.Options{Help: "Split large images into model-sized tiles", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	params := signdet.Params{
		ConfidenceThreshold: float32(*confidence),
		IoUThreshold:        float32(*iou),
	}
	check(params.Validate())

	logger, err := logs.NewLog()
	check(err)

	catalog, err := signs.LoadCatalog(logger, *classes, *signInfo)
	check(err)

	detector, err := nnload.LoadModel(logger, nnload.Options{
		Backend:        *backend,
		ModelFile:      *model,
		Threads:        1,
		OnnxRuntimeLib: *onnxLib,
		RemoteURL:      *remoteURL,
	})
	check(err)
	defer detector.Close()

	raw, err := os.ReadFile(*input)
	check(err)
	img, err := imagex.Decode(raw)
	check(err)

	var objects []nn.ObjectDetection
	if *tiled {
		objects, err = nn.TiledInference(context.Background(), detector, img, 2)
	} else {
		objects, err = detector.DetectObjects(context.Background(), img)
	}
	check(err)

	pipeline := signdet.NewPipeline(logger, catalog, params, "")
	resp := pipeline.Process(objects, img.Bounds().Dx(), img.Bounds().Dy())

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	check(encoder.Encode(resp))
}
