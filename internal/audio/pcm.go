// Package audio drives the local speaker and microphone: speech and media
// playback through oto, capture through miniaudio (malgo), and the
// generated cue tones for earcons and alarms.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"time"
)

// Output format shared by every track. Speech from the service and the
// recorded request audio both use 16 kHz mono signed 16-bit PCM.
const (
	SampleRate     = 16000
	ChannelCount   = 1
	bytesPerSample = 2
)

// ErrUnsupportedFormat is returned for audio the player cannot decode
// (compressed streams such as MP3).
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// decode turns an attachment or fetched body into raw PCM. WAV is unwrapped,
// headerless L16 passes through, anything else is rejected.
func decode(data []byte, format string) ([]byte, error) {
	if len(data) >= 4 && string(data[0:4]) == "RIFF" {
		return extractPCM(data)
	}
	if strings.HasPrefix(strings.ToUpper(format), "AUDIO_L16") {
		return data, nil
	}
	return nil, ErrUnsupportedFormat
}

// extractPCM strips the WAV/RIFF header and returns raw PCM data.
func extractPCM(wav []byte) ([]byte, error) {
	if len(wav) < 44 {
		return nil, errors.New("wav data too short")
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a valid WAV file")
	}

	// Walk chunks to find the "data" chunk.
	pos := 12
	for pos < len(wav)-8 {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))

		if chunkID == "data" {
			start := pos + 8
			end := min(start+chunkSize, len(wav))
			return wav[start:end], nil
		}

		pos += 8 + chunkSize
		// Chunks are word-aligned.
		if chunkSize%2 != 0 {
			pos++
		}
	}

	return nil, errors.New("data chunk not found in WAV")
}

// duration returns how long pcm plays at the output format.
func duration(pcm []byte) time.Duration {
	samples := len(pcm) / (bytesPerSample * ChannelCount)
	return time.Duration(samples) * time.Second / SampleRate
}

// tone renders a sine wave with a short linear fade at both ends.
func tone(freq float64, d time.Duration, amplitude float64) []byte {
	n := int(d.Seconds() * SampleRate)
	fade := SampleRate / 100 // 10 ms
	buf := make([]byte, n*bytesPerSample)
	for i := 0; i < n; i++ {
		gain := amplitude
		if i < fade {
			gain *= float64(i) / float64(fade)
		} else if n-i < fade {
			gain *= float64(n-i) / float64(fade)
		}
		v := int16(gain * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(d time.Duration) []byte {
	return make([]byte, int(d.Seconds()*SampleRate)*bytesPerSample)
}

// earconPCM is the cue for each earcon.
func earconPCM(freq float64, d time.Duration) []byte {
	return tone(freq, d, 0.4)
}

// alarmPCM is one cycle of the alert sound: two beeps and a pause.
func alarmPCM() []byte {
	var b bytes.Buffer
	beep := tone(988, 180*time.Millisecond, 0.6)
	gap := silence(120 * time.Millisecond)
	b.Write(beep)
	b.Write(gap)
	b.Write(beep)
	b.Write(silence(600 * time.Millisecond))
	return b.Bytes()
}

// rmsLevel maps a chunk of little-endian 16-bit samples to 0-100.
func rmsLevel(raw []byte) int {
	n := len(raw) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(n)) / math.MaxInt16
	return min(100, int(math.Round(rms*100)))
}
