//go:build !mvsdk

package pipeline

// SDKAvailable reports whether the vendor SDK binding is compiled in (build tag mvsdk)
const SDKAvailable = false

func NewDriver() Driver {
	return newSimulatedDriver(PixelBGR8Packed)
}
