// internal/imaging/image.go
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Format 支持的图像格式
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	WEBP Format = "webp"
)

// ImageData 承载一张已校验的图像及其格式
type ImageData struct {
	data   []byte
	format Format
}

// NewImageData 解析并校验图像字节
func NewImageData(data []byte) (*ImageData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("图像数据不能为空")
	}

	format, err := detectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("不支持的图像格式: %w", err)
	}

	return &ImageData{
		data:   data,
		format: format,
	}, nil
}

// Data 返回原始字节
func (i *ImageData) Data() []byte {
	return i.data
}

// Format 返回检测到的格式
func (i *ImageData) Format() Format {
	return i.format
}

// MimeType 返回对应的MIME类型
func (i *ImageData) MimeType() string {
	return "image/" + string(i.format)
}

// Extension 返回不带点的文件扩展名
func (i *ImageData) Extension() string {
	switch i.format {
	case JPEG:
		return "jpg"
	default:
		return string(i.format)
	}
}

// IsJPEG 是否已为JPEG
func (i *ImageData) IsJPEG() bool {
	return i.format == JPEG
}

// ToJPEG 转码为JPEG（远程API统一输入格式）
func (i *ImageData) ToJPEG() (*ImageData, error) {
	if i.IsJPEG() {
		return i, nil
	}

	reader := bytes.NewReader(i.data)
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("解码图像失败: %w", err)
	}

	var buf bytes.Buffer
	opts := &jpeg.Options{Quality: 90}
	if err := jpeg.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("转码JPEG失败: %w", err)
	}

	return &ImageData{
		data:   buf.Bytes(),
		format: JPEG,
	}, nil
}

// ToBase64 返回标准base64编码
func (i *ImageData) ToBase64() string {
	return base64.StdEncoding.EncodeToString(i.data)
}

func detectFormat(data []byte) (Format, error) {
	reader := bytes.NewReader(data)
	_, format, err := image.DecodeConfig(reader)
	if err != nil {
		return "", err
	}

	switch format {
	case "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "gif":
		return GIF, nil
	case "webp":
		return WEBP, nil
	default:
		return "", fmt.Errorf("未知格式: %s", format)
	}
}

// FormatFromMime 根据MIME类型推断格式，未知时回退为PNG
// 远程API返回的内联图像只带MIME类型
func FormatFromMime(mimeType string) Format {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return JPEG
	case "image/png":
		return PNG
	case "image/gif":
		return GIF
	case "image/webp":
		return WEBP
	default:
		return PNG
	}
}

// ExtensionForMime 根据MIME类型返回文件扩展名
func ExtensionForMime(mimeType string) string {
	f := FormatFromMime(mimeType)
	if f == JPEG {
		return "jpg"
	}
	return string(f)
}
