// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streamdeck

// Gen-2 report layout (Original V2, MK.2, XL).
const (
	VendorID = 0x0fd9

	featureReportLen = 32
	imageReportLen   = 1024
	imageHeaderLen   = 8
	imagePayloadLen  = imageReportLen - imageHeaderLen
	keyStateOffset   = 4
)

type model struct {
	name      string
	keys      int
	columns   int
	imageSize int
}

var models = map[uint16]model{
	0x006d: {name: "Stream Deck Original V2", keys: 15, columns: 5, imageSize: 72},
	0x0080: {name: "Stream Deck MK.2", keys: 15, columns: 5, imageSize: 72},
	0x00a5: {name: "Stream Deck MK.2", keys: 15, columns: 5, imageSize: 72},
	0x006c: {name: "Stream Deck XL", keys: 32, columns: 8, imageSize: 96},
	0x008f: {name: "Stream Deck XL", keys: 32, columns: 8, imageSize: 96},
}

// Supported reports whether pid is a known gen-2 device.
func Supported(pid uint16) bool {
	_, ok := models[pid]
	return ok
}

func featureReport(payload ...byte) []byte {
	buf := make([]byte, featureReportLen)
	copy(buf, payload)
	return buf
}

func resetReport() []byte { return featureReport(0x03, 0x02) }

func brightnessReport(percent int) []byte {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return featureReport(0x03, 0x08, byte(percent))
}

// imageReports splits an encoded key image into output reports.
// Every report is full length; the last page has byte 3 set.
func imageReports(key int, data []byte) [][]byte {
	var out [][]byte
	for page := 0; ; page++ {
		start := page * imagePayloadLen
		end := start + imagePayloadLen
		last := end >= len(data)
		if last {
			end = len(data)
		}
		chunk := data[start:end]

		r := make([]byte, imageReportLen)
		r[0] = 0x02
		r[1] = 0x07
		r[2] = byte(key)
		if last {
			r[3] = 1
		}
		r[4] = byte(len(chunk))
		r[5] = byte(len(chunk) >> 8)
		r[6] = byte(page)
		r[7] = byte(page >> 8)
		copy(r[imageHeaderLen:], chunk)
		out = append(out, r)

		if last {
			return out
		}
	}
}

// keyStates extracts pressed flags from an input report.
func keyStates(report []byte, keys int) []bool {
	states := make([]bool, keys)
	for i := 0; i < keys && keyStateOffset+i < len(report); i++ {
		states[i] = report[keyStateOffset+i] != 0
	}
	return states
}

// serialFromReport decodes the serial string of feature report 0x06.
func serialFromReport(report []byte) string {
	if len(report) <= 2 {
		return ""
	}
	b := report[2:]
	end := 0
	for end < len(b) && b[end] >= 0x20 && b[end] < 0x7f {
		end++
	}
	return string(b[:end])
}
