// Package detection holds the detection-set model and the detector backends
// that feed the sketch workflow.
//
// A detector turns an image into a Set: parallel slices of boxes, class ids
// and confidence scores. Index i refers to the same candidate in all three
// slices.
//
// # Coordinate System
//
// Boxes are normalized to the image they were detected on and use the
// TensorFlow object-detection ordering:
//
//	[ymin, xmin, ymax, xmax]   each in [0, 1]
//
// Because the values are relative, a box found on the scaled detector input
// maps directly onto the original frame. PixelRect converts a box into an
// image.Rectangle for a concrete width and height.
//
// # Confidence Scores
//
// Scores range from 0.0 to 1.0, higher meaning more confident. Filtering is
// always inclusive: a detection is accepted when score >= threshold.
//
// # Backends
//
//   - ShapeDetector: pure Go contour analysis. Finds outlined or filled
//     shapes and classifies them as rectangles, ellipses or blobs. It needs
//     no model files and is fully deterministic.
//   - ONNXDetector: runs an SSD-style object detection model exported to
//     ONNX through onnxruntime.
//   - WorkerDetector: delegates inference to an external process speaking a
//     length-prefixed pipe protocol.
//
// All backends share Annotate for drawing accepted boxes onto a copy of the
// original frame.
package detection
