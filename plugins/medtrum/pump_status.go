package medtrum

// PumpStatusDeliveringBasal is the normal running state.
const PumpStatusDeliveringBasal = 32

var pumpStatusLabels = map[int64]string{
	0:   "None",
	1:   "Idle",
	2:   "Filled",
	3:   "Priming",
	4:   "Primed",
	5:   "Ejecting",
	6:   "Ejected",
	32:  "Delivering Basal",
	33:  "Delivering Basal",
	64:  "Low Glucose Suspended",
	65:  "Low Glucose Suspended",
	66:  "Auto Suspended",
	67:  "Hourly Max Suspended",
	68:  "Daily Max Suspended",
	69:  "Suspended",
	70:  "Paused",
	96:  "Occlusion",
	97:  "Expired",
	98:  "Reservoir Empty",
	99:  "Patch Fault",
	100: "Patch Fault",
	101: "Base Fault",
	102: "Battery Out",
	103: "No Calibration",
	128: "Stopped",
}

// PumpStatusLabel returns the display label for a pump status code.
func PumpStatusLabel(code int64) string {
	if label, ok := pumpStatusLabels[code]; ok {
		return label
	}
	return "Unknown"
}

// PumpStatusOptions lists the distinct labels, in code order.
func PumpStatusOptions() []string {
	codes := []int64{0, 1, 2, 3, 4, 5, 6, 32, 64, 66, 67, 68, 69, 70, 96, 97, 98, 99, 101, 102, 103, 128}
	out := make([]string, 0, len(codes)+1)
	for _, code := range codes {
		out = append(out, pumpStatusLabels[code])
	}
	return append(out, "Unknown")
}

// pumpDelivering reports whether the code is a basal delivery state.
func pumpDelivering(code int64) bool {
	return code == PumpStatusDeliveringBasal || code == PumpStatusDeliveringBasal+1
}
