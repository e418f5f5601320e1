// Package qr renders the per-table QR codes customers scan to open the menu.
package qr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

type Generator struct {
	baseURL string
	size    int
}

// NewGenerator builds codes that point at <baseURL>/table/<n>.
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/"), size: defaultSize}
}

func (g *Generator) URL(tableID int64) string {
	return fmt.Sprintf("%s/table/%d", g.baseURL, tableID)
}

// PNG encodes the table URL as a PNG image.
func (g *Generator) PNG(tableID int64) ([]byte, error) {
	png, err := qrcode.Encode(g.URL(tableID), qrcode.Medium, g.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr for table %d: %w", tableID, err)
	}
	return png, nil
}

// WriteFiles writes table_<n>.png for tables 1..count into dir.
func (g *Generator) WriteFiles(dir string, count int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create qr dir: %w", err)
	}

	paths := make([]string, 0, count)
	for id := int64(1); id <= int64(count); id++ {
		path := filepath.Join(dir, fmt.Sprintf("table_%d.png", id))
		if err := qrcode.WriteFile(g.URL(id), qrcode.Medium, g.size, path); err != nil {
			return nil, fmt.Errorf("write qr for table %d: %w", id, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
