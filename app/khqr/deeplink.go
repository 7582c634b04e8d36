package khqr

import (
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	deepLinkBase     = "bakong://qr"
	DefaultImageSize = 256
	ImageContentType = "image/png"
)

type DeepLinkOptions struct {
	Callback   string
	AppIconURL string
	AppName    string
}

// BuildDeepLink builds the local bakong:// link used when the network cannot issue a short link.
func BuildDeepLink(payload string, opts DeepLinkOptions) string {
	var sb strings.Builder
	sb.WriteString(deepLinkBase)
	sb.WriteString("?qr=")
	sb.WriteString(url.QueryEscape(payload))

	appendParam := func(key, value string) {
		if value == "" {
			return
		}
		sb.WriteString("&")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(value))
	}
	appendParam("callback", opts.Callback)
	appendParam("appIconUrl", opts.AppIconURL)
	appendParam("appName", opts.AppName)

	return sb.String()
}

func RenderPNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
