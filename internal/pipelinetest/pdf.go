package pipelinetest

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strings"
)

// GrayImage is an 8-bit grayscale bitmap, one byte per pixel, row-major.
type GrayImage struct {
	Width, Height int
	Pix           []byte
}

// OnePagePDF builds a minimal, well-formed single page PDF that draws text
// in Helvetica and, when img is set, paints it as a Flate-compressed image
// XObject.
func OnePagePDF(text string, img *GrayImage) []byte {
	content := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (%s) Tj ET", escapePDFString(text))
	resources := "/Font << /F1 5 0 R >>"
	if img != nil {
		content += "\nq 64 0 0 64 100 100 cm /Im1 Do Q"
		resources += " /XObject << /Im1 6 0 R >>"
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << " + resources + " >> /Contents 4 0 R >>",
		stream("", []byte(content)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	if img != nil {
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		_, _ = w.Write(img.Pix)
		_ = w.Close()
		dict := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode ",
			img.Width, img.Height)
		objects = append(objects, stream(dict, z.Bytes()))
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return out.Bytes()
}

func stream(dict string, data []byte) string {
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

func escapePDFString(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
