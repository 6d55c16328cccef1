// Package file replays frames from a pcap or pcapng capture file.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/latprobe/internal/source"
)

const Name = "file"

// pcapng section header block type.
const ngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type Source struct {
	path    string
	f       *os.File
	reader  packetReader
	packets uint64
}

// Open opens path and detects its format from the leading magic number.
func Open(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("file: path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	r, err := newReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file: %s: %w", path, err)
	}
	return &Source{path: path, f: f, reader: r}, nil
}

// NewReader replays frames from an in-memory or streamed capture.
func NewReader(r io.Reader) (*Source, error) {
	pr, err := newReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	return &Source{reader: pr}, nil
}

func newReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Capture reads every frame sequentially. Frames are delivered as fast as the handler accepts
// them; the capture timestamps are preserved.
func (s *Source) Capture(ctx context.Context, handler source.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("file: read %s: %w", s.path, err)
		}
		s.packets++
		handler(source.Frame(data, ci))
	}
}

func (s *Source) LinkType() layers.LinkType {
	return s.reader.LinkType()
}

func (s *Source) Stats() source.Stats {
	return source.Stats{Packets: s.packets}
}

func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
