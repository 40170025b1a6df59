package fir

// computeNTaps estimates the odd tap count needed for the requested
// transition width with the given window.
func computeNTaps(sampleRate float64, transitionWidth float64, winType WindowType) int {
	maxAttenuation := windowMaxAttenuation[winType]
	ntaps := int(
		float64(maxAttenuation) * sampleRate / (22.0 * transitionWidth))
	ntaps |= 1

	return ntaps
}
