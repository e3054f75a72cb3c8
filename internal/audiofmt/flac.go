package audiofmt

import (
	"io"
	"os"

	"github.com/pchchv/flac"
	"github.com/pchchv/flac/frame"
	"github.com/pchchv/flac/meta"
	"github.com/pkg/errors"
)

// FLAC support is grounded on
// _examples/other_examples/8806fcba_pchchv-flac__encode_test.go.go,
// which demonstrates the decode (ParseFile/ParseNext) and encode
// (NewEncoder/WriteFrame/Close) API this file drives.

func probeFLAC(path string) (Info, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return Info{}, errors.Wrapf(err, "probe flac %q", path)
	}
	defer stream.Close()

	duration := 0.0
	if stream.Info.SampleRate > 0 {
		duration = float64(stream.Info.NSamples) / float64(stream.Info.SampleRate)
	}
	return Info{
		BitDepth:     int(stream.Info.BitsPerSample),
		Channels:     int(stream.Info.NChannels),
		Duration:     duration,
		SamplingRate: int(stream.Info.SampleRate),
		Format:       "flac",
	}, nil
}

func readFLAC(path string) (Signal, Info, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return Signal{}, Info{}, errors.Wrapf(err, "read flac %q", path)
	}
	defer stream.Close()

	numChannels := int(stream.Info.NChannels)
	channels := make([][]float64, numChannels)
	maxVal := float64(int64(1) << (uint(stream.Info.BitsPerSample) - 1))

	for {
		fr, err := stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return Signal{}, Info{}, errors.Wrapf(err, "decode flac frame %q", path)
		}
		for c := 0; c < numChannels && c < len(fr.Subframes); c++ {
			sub := fr.Subframes[c]
			for _, s := range sub.Samples {
				channels[c] = append(channels[c], float64(s)/maxVal)
			}
		}
	}

	duration := 0.0
	if stream.Info.SampleRate > 0 && numChannels > 0 {
		duration = float64(len(channels[0])) / float64(stream.Info.SampleRate)
	}
	info := Info{
		BitDepth:     int(stream.Info.BitsPerSample),
		Channels:     numChannels,
		Duration:     duration,
		SamplingRate: int(stream.Info.SampleRate),
		Format:       "flac",
	}
	return Signal{Channels: channels, SamplingRate: int(stream.Info.SampleRate)}, info, nil
}

// writeFLAC encodes sig as a new FLAC stream. Each block of samples is
// packed into one verbatim-coded frame; this trades compression ratio
// for a straightforward, correct mapping from arbitrary converted
// samples to the frame/subframe API WriteFrame expects.
func writeFLAC(path string, sig Signal, bitDepth int) error {
	if bitDepth == 0 {
		bitDepth = 16
	}
	numChannels := len(sig.Channels)
	if numChannels == 0 {
		return errors.New("audiofmt: cannot write flac with zero channels")
	}
	frames := sig.NumSamples()

	info := &meta.StreamInfo{
		BlockSizeMin:  blockSize,
		BlockSizeMax:  blockSize,
		SampleRate:    uint32(sig.SamplingRate),
		NChannels:     uint8(numChannels),
		BitsPerSample: uint8(bitDepth),
		NSamples:      uint64(frames),
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create flac %q", path)
	}
	defer f.Close()

	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		return errors.Wrapf(err, "create flac encoder %q", path)
	}

	maxVal := float64(int64(1)<<(uint(bitDepth)-1)) - 1
	for start := 0; start < frames; start += blockSize {
		end := start + blockSize
		if end > frames {
			end = frames
		}
		n := end - start

		subframes := make([]*frame.Subframe, numChannels)
		for c := 0; c < numChannels; c++ {
			samples := make([]int32, n)
			for i := 0; i < n; i++ {
				samples[i] = int32(sig.Channels[c][start+i] * maxVal)
			}
			subframes[c] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
			}
		}

		fr := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(n),
				SampleRate:        uint32(sig.SamplingRate),
				BitsPerSample:     uint8(bitDepth),
				Num:               uint64(start / blockSize),
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(fr); err != nil {
			return errors.Wrapf(err, "write flac frame %q", path)
		}
	}
	return enc.Close()
}

const blockSize = 4096
