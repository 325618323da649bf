package model

// Controls are the per-channel playback settings that survive a restart.
type Controls struct {
	Mode       PlayMode `json:"mode"`
	Volume     float64  `json:"volume"`
	BufferSize int      `json:"buffer"`
}
