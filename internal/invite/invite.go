package invite

import (
	"encoding/base64"
	"fmt"
	"image/color"
	"net"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// DefaultImageSize is the edge length of generated QR images in pixels.
const DefaultImageSize = 280

// Invite is what a participant scans to join a room.
type Invite struct {
	QR  string `json:"qr"`
	URL string `json:"url"`
}

// Encoder renders content as a PNG image of the given size.
type Encoder func(content string, size int) ([]byte, error)

// Generator builds invite links that point at this server on the local
// network. It holds no state beyond its address.
type Generator struct {
	host   string
	port   string
	size   int
	encode Encoder
}

func NewGenerator(host, port string) *Generator {
	return &Generator{
		host:   host,
		port:   port,
		size:   DefaultImageSize,
		encode: EncodePNG,
	}
}

// WithEncoder returns a copy of g that renders images with enc.
func (g *Generator) WithEncoder(enc Encoder) *Generator {
	c := *g
	c.encode = enc
	return &c
}

// URL returns the link for roomID. Role is included only when set.
func (g *Generator) URL(roomID, role string) string {
	q := url.Values{}
	q.Set("room", roomID)
	if role != "" {
		q.Set("role", role)
	}

	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(g.host, g.port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (g *Generator) Generate(roomID, role string) (*Invite, error) {
	link := g.URL(roomID, role)

	png, err := g.encode(link, g.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	return &Invite{
		QR:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		URL: link,
	}, nil
}

// EncodePNG draws a white-on-transparent QR code, matching the dark
// theme of the web client.
func EncodePNG(content string, size int) ([]byte, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	q.ForegroundColor = color.White
	q.BackgroundColor = color.Transparent
	return q.PNG(size)
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host, or
// "localhost" when there is none.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}

	return "localhost"
}
