//go:build gocv

package imageio

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Building with -tags gocv decodes through OpenCV first, which also reads
// formats the pure Go decoders do not know.
func init() {
	Register("opencv", decodeOpenCV)
}

func decodeOpenCV(data []byte) (image.Image, string, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, "", err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, "", fmt.Errorf("opencv could not decode image")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, "", err
	}
	return img, "opencv", nil
}
