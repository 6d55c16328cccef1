package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/core/tap"
)

const snapshotVersion = 1

// Snapshot is the on-disk form of a Store, so a live capture can be correlated later.
type Snapshot struct {
	Version   int             `yaml:"version"`
	CreatedAt time.Time       `yaml:"created_at"`
	Label     string          `yaml:"label,omitempty"`
	Frames    []snapshotFrame `yaml:"frames"`
}

type snapshotFrame struct {
	Index     int64  `yaml:"index"`
	Direction string `yaml:"direction"`
	Size      int    `yaml:"size"`
	Src       string `yaml:"src"`
	Dst       string `yaml:"dst"`
	// Microseconds since the Unix epoch
	TimestampUs int64  `yaml:"ts_us"`
	Tap         string `yaml:"tap,omitempty"` // Raw trailer, hex
}

// WriteSnapshot encodes s as YAML.
func WriteSnapshot(w io.Writer, s *Store, label string) error {
	snap := Snapshot{Version: snapshotVersion, CreatedAt: time.Now().UTC(), Label: label}
	s.Range(func(_ int64, frames []core.CapturedFrame) bool {
		for i := range frames {
			snap.Frames = append(snap.Frames, toSnapshotFrame(&frames[i]))
		}
		return true
	})

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot decodes a snapshot into a new Store. Tap trailers are re-parsed from their raw
// bytes.
func ReadSnapshot(r io.Reader) (*Store, *Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	s := NewStore()
	for i, sf := range snap.Frames {
		f, err := fromSnapshotFrame(sf)
		if err != nil {
			return nil, nil, fmt.Errorf("frame %d: %w", i, err)
		}
		s.Add(f)
	}
	return s, &snap, nil
}

// SaveSnapshot writes s to path.
func SaveSnapshot(path string, s *Store, label string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSnapshot(f, s, label); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadSnapshot reads a Store from path.
func LoadSnapshot(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, _, err := ReadSnapshot(f)
	return s, err
}

func toSnapshotFrame(f *core.CapturedFrame) snapshotFrame {
	sf := snapshotFrame{
		Index:       f.Index,
		Direction:   f.Direction.String(),
		Size:        f.Size,
		Src:         netip.AddrPortFrom(f.SrcIP, f.SrcPort).String(),
		Dst:         netip.AddrPortFrom(f.DstIP, f.DstPort).String(),
		TimestampUs: f.Timestamp.UnixMicro(),
	}
	if f.Tap != nil {
		sf.Tap = hex.EncodeToString(f.Tap.Raw[:])
	}
	return sf
}

func fromSnapshotFrame(sf snapshotFrame) (core.CapturedFrame, error) {
	f := core.CapturedFrame{
		Index:     sf.Index,
		Size:      sf.Size,
		Timestamp: time.UnixMicro(sf.TimestampUs),
	}

	switch sf.Direction {
	case core.DirectionPing.String():
		f.Direction = core.DirectionPing
	case core.DirectionPong.String():
		f.Direction = core.DirectionPong
	default:
		return f, fmt.Errorf("unknown direction %q", sf.Direction)
	}

	src, err := netip.ParseAddrPort(sf.Src)
	if err != nil {
		return f, fmt.Errorf("src: %w", err)
	}
	dst, err := netip.ParseAddrPort(sf.Dst)
	if err != nil {
		return f, fmt.Errorf("dst: %w", err)
	}
	f.SrcIP, f.SrcPort = src.Addr(), src.Port()
	f.DstIP, f.DstPort = dst.Addr(), dst.Port()

	if sf.Tap != "" {
		raw, err := hex.DecodeString(sf.Tap)
		if err != nil {
			return f, fmt.Errorf("tap: %w", err)
		}
		if len(raw) != tap.TrailerLen {
			return f, fmt.Errorf("tap: %w", tap.ErrTrailerTooShort)
		}
		if f.Tap, err = tap.Parse(raw); err != nil {
			return f, fmt.Errorf("tap: %w", err)
		}
	}
	return f, nil
}
