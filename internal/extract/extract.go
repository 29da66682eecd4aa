// Package extract scans HTML for downloadable file links.
package extract

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webwatch_bot/internal/model"
)

// Extension allow-list, partitioned by file type.
var (
	documentExts = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt"}
	imageExts    = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	audioExts    = []string{".mp3", ".wav", ".ogg"}
	videoExts    = []string{".mp4", ".mov", ".avi", ".mkv"}
)

var typeByExt = buildTypeIndex()

func buildTypeIndex() map[string]model.FileType {
	m := make(map[string]model.FileType)
	for _, e := range documentExts {
		m[e] = model.TypeDocument
	}
	for _, e := range imageExts {
		m[e] = model.TypeImage
	}
	for _, e := range audioExts {
		m[e] = model.TypeAudio
	}
	for _, e := range videoExts {
		m[e] = model.TypeVideo
	}
	return m
}

// Files returns the downloadable links found in an HTML document, resolved
// against baseURL and filtered by the extension allow-list. Malformed HTML
// is parsed best-effort; an unparseable document yields no files. Duplicate
// URLs are kept — deduplication happens against the target's seen set.
func Files(html []byte, baseURL string) []model.ExtractedFile {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var files []model.ExtractedFile
	doc.Find("a, img, audio, video, source").Each(func(_ int, sel *goquery.Selection) {
		ref, ok := sel.Attr("href")
		if !ok {
			ref, ok = sel.Attr("src")
		}
		if !ok || ref == "" {
			return
		}

		resolved, err := base.Parse(ref)
		if err != nil {
			return
		}

		ext := strings.ToLower(path.Ext(resolved.Path))
		fileType, ok := typeByExt[ext]
		if !ok {
			return
		}

		name := sel.AttrOr("alt", "")
		if name == "" {
			name = sel.AttrOr("title", "")
		}
		if name == "" {
			name = path.Base(resolved.Path)
		}

		files = append(files, model.ExtractedFile{
			Name: name,
			URL:  resolved.String(),
			Type: fileType,
		})
	})
	return files
}
