package wavfile

import (
	"fmt"
	"path"

	"github.com/spf13/afero"
	wave "github.com/zenwerk/go-wave"

	"github.com/MrWong99/hark/pkg/audio"
)

// Dumper writes captured command segments into a directory as WAV files named
// after the session that produced them.
type Dumper struct {
	fs  afero.Fs
	dir string
}

// NewDumper returns a Dumper writing into dir, creating it if needed.
func NewDumper(fs afero.Fs, dir string) (*Dumper, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavfile: create dump dir %q: %w", dir, err)
	}
	return &Dumper{fs: fs, dir: dir}, nil
}

// Dump writes seg to <dir>/<name>.wav and returns the file path.
func (d *Dumper) Dump(name string, seg audio.Segment) (string, error) {
	if seg.Empty() {
		return "", fmt.Errorf("wavfile: refusing to dump empty segment %q", name)
	}
	p := path.Join(d.dir, name+".wav")
	f, err := d.fs.Create(p)
	if err != nil {
		return "", fmt.Errorf("wavfile: create %q: %w", p, err)
	}

	w, err := wave.NewWriter(wave.WriterParam{
		Out:           f,
		Channel:       seg.Channels,
		SampleRate:    seg.SampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("wavfile: wave writer: %w", err)
	}
	for _, fr := range seg.Frames {
		if _, err := w.WriteSample16(audio.Int16s(fr.Data)); err != nil {
			_ = w.Close()
			return "", fmt.Errorf("wavfile: write %q: %w", p, err)
		}
	}
	// Close patches the RIFF sizes and closes the underlying file.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("wavfile: close %q: %w", p, err)
	}
	return p, nil
}
