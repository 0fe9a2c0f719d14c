// Package onnxrt runs exported image encoders through ONNX Runtime.
package onnxrt

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ErrNotInitialized = errors.New("onnx runtime is not initialized")
	ErrUnsupported    = errors.New("unsupported onnx model")
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the onnxruntime shared library once per process. An empty
// libPath leaves the lookup to the runtime's default search.
func Init(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("init onnx runtime: %w", err)
		}
	})
	return initErr
}

func Initialized() bool {
	return ort.IsInitialized()
}
