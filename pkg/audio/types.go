package audio

import "time"

// BytesPerSample is fixed at two: every frame in the pipeline carries 16-bit
// signed little-endian mono PCM.
const BytesPerSample = 2

// Frame is a single fixed-duration chunk of mono PCM audio flowing through the
// pipeline. Frames are the atomic unit of audio transport: captured from an
// input stream, queued in a [FrameChannel], classified by VAD and finally
// concatenated into an utterance for transcription.
//
// A Frame is treated as immutable once it has been pushed into a channel.
type Frame struct {
	// Data is 16-bit signed little-endian mono PCM.
	Data []byte

	// Seq is the capture sequence number assigned by the producer, starting at
	// zero. Gaps indicate frames dropped by the channel's overflow policy.
	Seq uint64

	// Duration is the playback length of Data.
	Duration time.Duration
}

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / BytesPerSample
}

// FrameSamples returns the number of samples in one frame of frameMs
// milliseconds at sampleRate Hz.
func FrameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}
