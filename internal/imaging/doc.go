// Package imaging provides the raster plumbing for the sketch pipeline.
//
// It loads frames from disk, produces the uniformly scaled copy that is fed
// to a detector, assigns stable per-class colors, and writes PNG files. All
// operations work with standard Go image.Image values and use a coordinate
// system where (0,0) is at the top-left corner, X increases rightward, and Y
// increases downward.
//
// # Scaling
//
// Detector input is bounded by scaling the longest side of a frame to a
// fixed target (300 pixels by default). The same factor is applied to both
// axes, so the aspect ratio is preserved:
//
//	s = target / max(width, height)
//
// Small frames are scaled up by the same rule.
//
// # Color Representation
//
// Class colors are generated in HSV space with a golden-angle hue step, so
// neighbouring class ids get clearly distinct hues. User supplied colors are
// parsed from "#RRGGBB" hex strings.
//
// # Error Handling
//
// Functions return errors for invalid inputs such as:
//   - Empty images (zero width or height)
//   - Non-positive scale factors or targets
//   - File I/O errors during image loading
//   - Encoding errors during image output
package imaging
