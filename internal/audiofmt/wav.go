package audiofmt

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Minimal canonical PCM WAV: RIFF/WAVE, one "fmt " chunk (PCM, format
// tag 1), one "data" chunk. Hand-rolled: no WAV library is present
// anywhere in the retrieved corpus (see DESIGN.md).

type wavFmt struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func readWAVHeader(r io.Reader) (wavFmt, uint32, error) {
	var riffID [4]byte
	var riffSize uint32
	var waveID [4]byte
	if err := binary.Read(r, binary.LittleEndian, &riffID); err != nil {
		return wavFmt{}, 0, err
	}
	if string(riffID[:]) != "RIFF" {
		return wavFmt{}, 0, errors.New("audiofmt: not a RIFF file")
	}
	if err := binary.Read(r, binary.LittleEndian, &riffSize); err != nil {
		return wavFmt{}, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &waveID); err != nil {
		return wavFmt{}, 0, err
	}
	if string(waveID[:]) != "WAVE" {
		return wavFmt{}, 0, errors.New("audiofmt: not a WAVE file")
	}

	var fm wavFmt
	var dataSize uint32
	haveFmt, haveData := false, false
	for !haveData {
		var chunkID [4]byte
		var chunkSize uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkID); err != nil {
			return wavFmt{}, 0, errors.Wrap(err, "read wav chunk id")
		}
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return wavFmt{}, 0, errors.Wrap(err, "read wav chunk size")
		}
		switch string(chunkID[:]) {
		case "fmt ":
			if err := binary.Read(r, binary.LittleEndian, &fm); err != nil {
				return wavFmt{}, 0, err
			}
			if extra := int64(chunkSize) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return wavFmt{}, 0, err
				}
			}
			haveFmt = true
		case "data":
			dataSize = chunkSize
			haveData = true
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return wavFmt{}, 0, err
			}
		}
	}
	if !haveFmt {
		return wavFmt{}, 0, errors.New("audiofmt: wav missing fmt chunk")
	}
	return fm, dataSize, nil
}

func probeWAV(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, errors.Wrapf(err, "open wav %q", path)
	}
	defer f.Close()

	fm, dataSize, err := readWAVHeader(bufio.NewReader(f))
	if err != nil {
		return Info{}, errors.Wrapf(err, "probe wav %q", path)
	}
	bytesPerFrame := int(fm.BlockAlign)
	if bytesPerFrame == 0 {
		bytesPerFrame = int(fm.NumChannels) * int(fm.BitsPerSample) / 8
	}
	frames := 0
	if bytesPerFrame > 0 {
		frames = int(dataSize) / bytesPerFrame
	}
	duration := 0.0
	if fm.SampleRate > 0 {
		duration = float64(frames) / float64(fm.SampleRate)
	}
	return Info{
		BitDepth:     int(fm.BitsPerSample),
		Channels:     int(fm.NumChannels),
		Duration:     duration,
		SamplingRate: int(fm.SampleRate),
		Format:       "wav",
	}, nil
}

func readWAV(path string) (Signal, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, Info{}, errors.Wrapf(err, "open wav %q", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	fm, dataSize, err := readWAVHeader(br)
	if err != nil {
		return Signal{}, Info{}, errors.Wrapf(err, "read wav %q", path)
	}

	bytesPerSample := int(fm.BitsPerSample) / 8
	numChannels := int(fm.NumChannels)
	if bytesPerSample == 0 || numChannels == 0 {
		return Signal{}, Info{}, errors.Errorf("audiofmt: invalid wav format in %q", path)
	}
	frameSize := bytesPerSample * numChannels
	frames := int(dataSize) / frameSize

	channels := make([][]float64, numChannels)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}

	buf := make([]byte, dataSize)
	if _, err := io.ReadFull(br, buf); err != nil {
		return Signal{}, Info{}, errors.Wrapf(err, "read wav samples %q", path)
	}

	maxVal := float64(int64(1) << (uint(fm.BitsPerSample) - 1))
	off := 0
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			v := decodeSample(buf[off:off+bytesPerSample], bytesPerSample)
			channels[c][i] = float64(v) / maxVal
			off += bytesPerSample
		}
	}

	info := Info{
		BitDepth:     int(fm.BitsPerSample),
		Channels:     numChannels,
		Duration:     float64(frames) / float64(fm.SampleRate),
		SamplingRate: int(fm.SampleRate),
		Format:       "wav",
	}
	return Signal{Channels: channels, SamplingRate: int(fm.SampleRate)}, info, nil
}

func decodeSample(b []byte, width int) int32 {
	switch width {
	case 1:
		return int32(b[0]) - 128
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return v
	case 4:
		return int32(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}

func encodeSample(v int32, width int, out []byte) {
	switch width {
	case 1:
		out[0] = byte(v + 128)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(int16(v)))
	case 3:
		out[0] = byte(v)
		out[1] = byte(v >> 8)
		out[2] = byte(v >> 16)
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	}
}

func writeWAV(path string, sig Signal, bitDepth int) error {
	if bitDepth == 0 {
		bitDepth = 16
	}
	numChannels := len(sig.Channels)
	if numChannels == 0 {
		return errors.New("audiofmt: cannot write wav with zero channels")
	}
	frames := sig.NumSamples()
	bytesPerSample := bitDepth / 8
	blockAlign := bytesPerSample * numChannels
	dataSize := uint32(frames * blockAlign)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create wav %q", path)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	bw.WriteString("RIFF")
	binary.Write(bw, binary.LittleEndian, uint32(36)+dataSize)
	bw.WriteString("WAVE")
	bw.WriteString("fmt ")
	binary.Write(bw, binary.LittleEndian, uint32(16))
	binary.Write(bw, binary.LittleEndian, wavFmt{
		AudioFormat:   1,
		NumChannels:   uint16(numChannels),
		SampleRate:    uint32(sig.SamplingRate),
		ByteRate:      uint32(sig.SamplingRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(bitDepth),
	})
	bw.WriteString("data")
	binary.Write(bw, binary.LittleEndian, dataSize)

	maxVal := float64(int64(1)<<(uint(bitDepth)-1)) - 1
	sampleBuf := make([]byte, bytesPerSample)
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			v := int32(sig.Channels[c][i] * maxVal)
			encodeSample(v, bytesPerSample, sampleBuf)
			if _, err := bw.Write(sampleBuf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
