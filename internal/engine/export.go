package engine

import (
	"fmt"
	"strings"
)

// ExportType is the requested output format of a render call.
type ExportType int

const (
	ExportPDF ExportType = iota + 1
	ExportExcelStream
	ExportXLSFlow
	ExportHTMLStream
	ExportHTMLEmbedded
	ExportCSV
	ExportImage
	ExportRTF
	ExportText
)

// ExportTypes lists every declared export type, supported or not.
var ExportTypes = []ExportType{
	ExportPDF,
	ExportExcelStream,
	ExportXLSFlow,
	ExportHTMLStream,
	ExportHTMLEmbedded,
	ExportCSV,
	ExportImage,
	ExportRTF,
	ExportText,
}

// MIME types of rendered output.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeHTML = "text/html"
	ContentTypeCSV  = "text/csv"
	ContentTypeRTF  = "application/rtf"
	ContentTypeText = "text/plain"
)

var exportNames = map[ExportType]string{
	ExportPDF:          "pdf",
	ExportExcelStream:  "excel",
	ExportXLSFlow:      "xls",
	ExportHTMLStream:   "html",
	ExportHTMLEmbedded: "html_embedded",
	ExportCSV:          "csv",
	ExportImage:        "image",
	ExportRTF:          "rtf",
	ExportText:         "text",
}

var exportExtensions = map[ExportType]string{
	ExportPDF:          "pdf",
	ExportExcelStream:  "xlsx",
	ExportXLSFlow:      "xlsx",
	ExportHTMLStream:   "html",
	ExportHTMLEmbedded: "html",
	ExportCSV:          "csv",
	ExportRTF:          "rtf",
	ExportText:         "txt",
}

func (t ExportType) String() string {
	if name, ok := exportNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ExportType(%d)", int(t))
}

// Extension returns the file extension for the rendered output, or "bin".
func (t ExportType) Extension() string {
	if ext, ok := exportExtensions[t]; ok {
		return ext
	}
	return "bin"
}

// ContentType maps an export type to the MIME type of its output.
// The second result is false when the type has no MIME mapping.
func ContentType(t ExportType) (string, bool) {
	switch t {
	case ExportPDF:
		return ContentTypePDF, true
	case ExportExcelStream, ExportXLSFlow:
		return ContentTypeXLSX, true
	case ExportHTMLStream, ExportHTMLEmbedded:
		return ContentTypeHTML, true
	case ExportCSV:
		return ContentTypeCSV, true
	case ExportRTF:
		return ContentTypeRTF, true
	case ExportText:
		return ContentTypeText, true
	default:
		return "", false
	}
}

// ParseExportType accepts the names returned by String, case-insensitively,
// plus a few aliases used by older clients.
func ParseExportType(s string) (ExportType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "xlsx", "excel_stream":
		return ExportExcelStream, nil
	case "xls_flow":
		return ExportXLSFlow, nil
	case "html_stream":
		return ExportHTMLStream, nil
	case "txt":
		return ExportText, nil
	}
	for t, n := range exportNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown export type %q", s)
}
