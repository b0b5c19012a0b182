package video

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Photron header keys
const (
	keyFPS        = "Record Rate(fps)"
	keyWidth      = "Image Width"
	keyHeight     = "Image Height"
	keyTotal      = "Total Frame"
	keyStart      = "Start Frame"
	keyColorBit   = "Color Bit"
	keyColorType  = "Color Type"
	keyFileFormat = "File Format"
	keyEffBit     = "EffectiveBit Depth"
)

// CIHHeader holds the fields of a Photron .cih header that matter for
// decoding the companion .mraw file.
type CIHHeader struct {
	FPS          float64
	Width        int
	Height       int
	TotalFrames  int
	StartFrame   int
	ColorBit     int
	EffectiveBit int
	ColorType    string
	FileFormat   string
	Raw          map[string]string
}

// FrameBytes is the size of a single frame in the .mraw file.
func (h CIHHeader) FrameBytes() int {
	return h.Width * h.Height * h.ColorBit / 8
}

// ParseCIH reads a Photron "Key : Value" header.
func ParseCIH(r io.Reader) (CIHHeader, error) {
	raw := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " : ")
		if !ok {
			continue
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return CIHHeader{}, fmt.Errorf("failed to read cih header: %w", err)
	}

	h := CIHHeader{
		Raw:        raw,
		ColorType:  raw[keyColorType],
		FileFormat: raw[keyFileFormat],
	}

	var err error
	if h.FPS, err = headerFloat(raw, keyFPS); err != nil {
		return h, err
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{keyWidth, &h.Width},
		{keyHeight, &h.Height},
		{keyTotal, &h.TotalFrames},
		{keyColorBit, &h.ColorBit},
	} {
		if *f.dst, err = headerInt(raw, f.key); err != nil {
			return h, err
		}
	}
	if _, ok := raw[keyStart]; ok {
		if h.StartFrame, err = headerInt(raw, keyStart); err != nil {
			return h, err
		}
	}
	h.EffectiveBit = h.ColorBit
	if _, ok := raw[keyEffBit]; ok {
		if h.EffectiveBit, err = headerInt(raw, keyEffBit); err != nil {
			return h, err
		}
	}

	if h.FileFormat != "" && !strings.EqualFold(h.FileFormat, "mraw") {
		return h, fmt.Errorf("%w: file format %q", ErrUnsupportedFormat, h.FileFormat)
	}
	if h.ColorType != "" && !strings.EqualFold(h.ColorType, "mono") {
		return h, fmt.Errorf("%w: color type %q", ErrUnsupportedFormat, h.ColorType)
	}
	switch h.ColorBit {
	case 8, 12, 16:
	default:
		return h, fmt.Errorf("%w: %d-bit pixels", ErrUnsupportedFormat, h.ColorBit)
	}
	if h.Width <= 0 || h.Height <= 0 || h.TotalFrames < 0 {
		return h, fmt.Errorf("invalid cih geometry %dx%d with %d frames", h.Width, h.Height, h.TotalFrames)
	}
	if h.ColorBit == 12 && (h.Width*h.Height)%2 != 0 {
		return h, fmt.Errorf("%w: 12-bit frames need an even pixel count", ErrUnsupportedFormat)
	}
	return h, nil
}

func mrawFor(cihPath string) string {
	return strings.TrimSuffix(cihPath, filepath.Ext(cihPath)) + ".mraw"
}

func headerInt(raw map[string]string, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("cih header missing %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("cih header %q: %w", key, err)
	}
	return n, nil
}

func headerFloat(raw map[string]string, key string) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("cih header missing %q", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("cih header %q: %w", key, err)
	}
	return f, nil
}

// CIHReader reads frames from a .mraw file described by a .cih header.
type CIHReader struct {
	header CIHHeader
	file   *os.File
}

// OpenCIH opens a .cih header and its sibling .mraw file.
func OpenCIH(path string) (*CIHReader, error) {
	hf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cih header '%s': %w", path, err)
	}
	defer hf.Close()

	header, err := ParseCIH(hf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}

	mrawPath := mrawFor(path)
	mf, err := os.Open(mrawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mraw data '%s': %w", mrawPath, err)
	}

	info, err := mf.Stat()
	if err != nil {
		mf.Close()
		return nil, fmt.Errorf("failed to stat '%s': %w", mrawPath, err)
	}
	if need := int64(header.FrameBytes()) * int64(header.TotalFrames); info.Size() < need {
		mf.Close()
		return nil, fmt.Errorf("mraw '%s' holds %d bytes, header needs %d", mrawPath, info.Size(), need)
	}

	return &CIHReader{header: header, file: mf}, nil
}

func (r *CIHReader) Header() CIHHeader { return r.header }
func (r *CIHReader) Width() int        { return r.header.Width }
func (r *CIHReader) Height() int       { return r.header.Height }
func (r *CIHReader) FPS() float64      { return r.header.FPS }
func (r *CIHReader) FrameCount() int   { return r.header.TotalFrames }
func (r *CIHReader) Close() error      { return r.file.Close() }

// Frame decodes frame i. ReadAt makes concurrent calls safe.
func (r *CIHReader) Frame(ctx context.Context, i int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkIndex(i, r.header.TotalFrames); err != nil {
		return nil, err
	}

	n := r.header.FrameBytes()
	buf := make([]byte, n)
	if _, err := r.file.ReadAt(buf, int64(i)*int64(n)); err != nil {
		return nil, fmt.Errorf("failed to read frame %d: %w", i, err)
	}

	f := NewFrame(r.header.Width, r.header.Height)
	decodeMRAW(buf, r.header.ColorBit, f.Pix)
	return f, nil
}

func decodeMRAW(buf []byte, bits int, pix []float64) {
	switch bits {
	case 8:
		for i, b := range buf {
			pix[i] = float64(b)
		}
	case 12:
		for i, j := 0, 0; j+2 < len(buf); i, j = i+2, j+3 {
			b0, b1, b2 := uint16(buf[j]), uint16(buf[j+1]), uint16(buf[j+2])
			pix[i] = float64(b0<<4 | b1>>4)
			pix[i+1] = float64((b1&0x0F)<<8 | b2)
		}
	case 16:
		for i := range pix {
			pix[i] = float64(binary.LittleEndian.Uint16(buf[2*i:]))
		}
	}
}

func encodeMRAW(pix []float64, bits int) []byte {
	quant := func(v float64) uint16 {
		limit := math.Exp2(float64(bits)) - 1
		return uint16(math.Max(0, math.Min(limit, math.Round(v))))
	}
	switch bits {
	case 8:
		out := make([]byte, len(pix))
		for i, v := range pix {
			out[i] = byte(quant(v))
		}
		return out
	case 12:
		out := make([]byte, len(pix)*3/2)
		for i, j := 0, 0; i+1 < len(pix); i, j = i+2, j+3 {
			p0, p1 := quant(pix[i]), quant(pix[i+1])
			out[j] = byte(p0 >> 4)
			out[j+1] = byte((p0&0x0F)<<4 | p1>>8)
			out[j+2] = byte(p1)
		}
		return out
	default:
		out := make([]byte, len(pix)*2)
		for i, v := range pix {
			binary.LittleEndian.PutUint16(out[2*i:], quant(v))
		}
		return out
	}
}

// WriteCIH writes frames as a .cih header plus .mraw data next to it.
func WriteCIH(ctx context.Context, path string, src Reader, bits int) error {
	switch bits {
	case 8, 12, 16:
	default:
		return fmt.Errorf("%w: %d-bit pixels", ErrUnsupportedFormat, bits)
	}
	if bits == 12 && (src.Width()*src.Height())%2 != 0 {
		return fmt.Errorf("%w: 12-bit frames need an even pixel count", ErrUnsupportedFormat)
	}

	hf, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cih header: %w", err)
	}
	defer hf.Close()

	w := bufio.NewWriter(hf)
	fmt.Fprintln(w, "#Camera Information Header")
	for _, kv := range [][2]string{
		{keyFPS, strconv.FormatFloat(src.FPS(), 'f', -1, 64)},
		{keyStart, "0"},
		{keyTotal, strconv.Itoa(src.FrameCount())},
		{keyWidth, strconv.Itoa(src.Width())},
		{keyHeight, strconv.Itoa(src.Height())},
		{keyColorType, "Mono"},
		{keyColorBit, strconv.Itoa(bits)},
		{keyFileFormat, "MRaw"},
		{keyEffBit, strconv.Itoa(bits)},
	} {
		fmt.Fprintf(w, "%s : %s\n", kv[0], kv[1])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write cih header: %w", err)
	}

	mf, err := os.Create(mrawFor(path))
	if err != nil {
		return fmt.Errorf("failed to create mraw data: %w", err)
	}
	defer mf.Close()

	mw := bufio.NewWriter(mf)
	for i := 0; i < src.FrameCount(); i++ {
		frame, err := src.Frame(ctx, i)
		if err != nil {
			return err
		}
		if _, err := mw.Write(encodeMRAW(frame.Pix, bits)); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", i, err)
		}
	}
	if err := mw.Flush(); err != nil {
		return fmt.Errorf("failed to write mraw data: %w", err)
	}
	return mf.Close()
}
