// Package multipart decodes multipart/form-data bodies by scanning raw bytes
// for the boundary delimiter.
package multipart

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sdko-org/filevault/internal/apperr"
)

const DefaultFileContentType = "application/octet-stream"

var (
	crlf            = []byte("\r\n")
	headerSeparator = []byte("\r\n\r\n")

	nameAttr     = regexp.MustCompile(`(?i)(?:^|;)\s*name\s*=\s*"([^"]*)"`)
	filenameAttr = regexp.MustCompile(`(?i)(?:^|;)\s*filename\s*=\s*"([^"]*)"`)
)

type File struct {
	FieldName   string
	Filename    string
	ContentType string
	Content     []byte
	Size        int
}

type Form struct {
	Fields map[string]string
	Files  []File
}

// File returns the first file part submitted under name.
func (f *Form) File(name string) (File, bool) {
	for _, file := range f.Files {
		if file.FieldName == name {
			return file, true
		}
	}
	return File{}, false
}

// Parse splits body on "--"+boundary and decodes every part that carries a
// header block and a Content-Disposition name. Malformed parts are skipped.
func Parse(body []byte, boundary string) (*Form, error) {
	if boundary == "" {
		return nil, apperr.Validation("multipart boundary is required")
	}

	form := &Form{Fields: make(map[string]string)}
	delimiter := []byte("--" + boundary)

	segments := split(body, delimiter)
	// segments[0] is the preamble before the first delimiter.
	for _, segment := range segments[1:] {
		if len(segment) == 0 {
			continue
		}
		parsePart(form, segment)
	}

	return form, nil
}

func split(body, delimiter []byte) [][]byte {
	var segments [][]byte
	rest := body
	for {
		idx := bytes.Index(rest, delimiter)
		if idx < 0 {
			segments = append(segments, rest)
			return segments
		}
		segments = append(segments, rest[:idx])
		rest = rest[idx+len(delimiter):]
	}
}

func parsePart(form *Form, segment []byte) {
	sep := bytes.Index(segment, headerSeparator)
	if sep < 0 {
		return
	}

	headers := parseHeaders(segment[:sep])
	payload := segment[sep+len(headerSeparator):]
	payload = bytes.TrimSuffix(payload, crlf)

	disposition := headers["content-disposition"]
	name, ok := attribute(nameAttr, disposition)
	if !ok {
		return
	}

	filename, isFile := attribute(filenameAttr, disposition)
	if !isFile {
		form.Fields[name] = decodeText(payload)
		return
	}

	contentType := headers["content-type"]
	if contentType == "" {
		contentType = DefaultFileContentType
	}

	content := make([]byte, len(payload))
	copy(content, payload)

	form.Files = append(form.Files, File{
		FieldName:   name,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
		Size:        len(content),
	})
}

func parseHeaders(block []byte) map[string]string {
	headers := make(map[string]string)
	for _, line := range bytes.Split(block, crlf) {
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		headers[key] = strings.TrimSpace(string(line[colon+1:]))
	}
	return headers
}

func attribute(re *regexp.Regexp, disposition string) (string, bool) {
	m := re.FindStringSubmatch(disposition)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// BoundaryFromContentType extracts the boundary parameter from a
// multipart/form-data Content-Type header value.
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, _ := strings.Cut(contentType, ";")
	if !strings.EqualFold(strings.TrimSpace(mediaType), "multipart/form-data") {
		return "", apperr.Validation("content type must be multipart/form-data")
	}

	for _, param := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "boundary") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value != "" {
			return value, nil
		}
	}

	return "", apperr.Validation("multipart boundary is missing from content type")
}
