// Package invite builds shareable party links and renders them as terminal
// QR codes.
package invite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Scheme is the URL scheme of party links.
const Scheme = "partyline"

var ErrNotALink = errors.New("not a party link")

// Link returns the invite link for a party.
func Link(partyID string) string {
	return (&url.URL{Scheme: Scheme, Host: "party", Path: "/" + partyID}).String()
}

// ParseLink extracts the party id from an invite link.
func ParseLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", link, err)
	}
	if u.Scheme != Scheme || u.Host != "party" {
		return "", fmt.Errorf("%q: %w", link, ErrNotALink)
	}
	id := strings.Trim(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%q: %w", link, ErrNotALink)
	}
	return id, nil
}

// PartyID accepts either a bare party id or an invite link.
func PartyID(arg string) string {
	if id, err := ParseLink(arg); err == nil {
		return id
	}
	return arg
}

// RenderQR converts content to a compact QR code using Unicode half-block
// characters. Two bitmap rows become one terminal line.
func RenderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("generate qr: %w", err)
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
