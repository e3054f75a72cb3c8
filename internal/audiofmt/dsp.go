package audiofmt

// Remix and Resample implement the audio math behind flavor conversion
// (spec.md §4.3 step 3). No DSP/resample library appears anywhere in
// the retrieved corpus, so this is plain stdlib math (see DESIGN.md).

// Remix selects/reorders channels, then optionally mixes down to mono.
// Non-existent requested channel indices are filled by repeating the
// last existing channel ("upmix=repeat", §4.3). Mixdown is applied
// after channel selection, and is a no-op if fewer than two channels
// result (spec.md §3.3: "mixdown is a boolean forced to false when the
// resulting channel count is <2").
func Remix(sig Signal, channels []int, mixdown bool) Signal {
	src := sig.Channels
	if len(src) == 0 {
		return sig
	}

	var selected [][]float64
	if len(channels) == 0 {
		selected = src
	} else {
		selected = make([][]float64, len(channels))
		for i, idx := range channels {
			if idx >= 0 && idx < len(src) {
				selected[i] = src[idx]
			} else {
				selected[i] = src[len(src)-1] // repeat last existing channel
			}
		}
	}

	if mixdown && len(selected) >= 2 {
		n := len(selected[0])
		mixed := make([]float64, n)
		for _, ch := range selected {
			for i := 0; i < n && i < len(ch); i++ {
				mixed[i] += ch[i]
			}
		}
		inv := 1.0 / float64(len(selected))
		for i := range mixed {
			mixed[i] *= inv
		}
		selected = [][]float64{mixed}
	}

	return Signal{Channels: selected, SamplingRate: sig.SamplingRate}
}

// Resample linearly interpolates sig to targetRate. A no-op when the
// rates already match.
func Resample(sig Signal, targetRate int) Signal {
	if targetRate == 0 || sig.SamplingRate == 0 || targetRate == sig.SamplingRate {
		return sig
	}
	ratio := float64(targetRate) / float64(sig.SamplingRate)
	out := make([][]float64, len(sig.Channels))
	for c, ch := range sig.Channels {
		n := len(ch)
		newN := int(float64(n) * ratio)
		resampled := make([]float64, newN)
		for i := 0; i < newN; i++ {
			srcPos := float64(i) / ratio
			lo := int(srcPos)
			frac := srcPos - float64(lo)
			hi := lo + 1
			var a, b float64
			if lo < n {
				a = ch[lo]
			}
			if hi < n {
				b = ch[hi]
			} else {
				b = a
			}
			resampled[i] = a + (b-a)*frac
		}
		out[c] = resampled
	}
	return Signal{Channels: out, SamplingRate: targetRate}
}
