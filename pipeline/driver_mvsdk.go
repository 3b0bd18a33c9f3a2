//go:build mvsdk

package pipeline

/*
#cgo CFLAGS: -I/opt/MVS/include
#cgo LDFLAGS: -L/opt/MVS/lib/64 -lMvCameraControl
#include <stdlib.h>
#include <string.h>
#include "MvCameraControl.h"
*/
import "C"

import (
	"time"
	"unsafe"

	"golang.org/x/xerrors"
)

const SDKAvailable = true

func NewDriver() Driver {
	return &mvsDriver{}
}

type mvsDriver struct {
	handle   unsafe.Pointer
	grabbing bool
}

func mvsErr(op string, code C.int) error {
	return xerrors.Errorf("%s failed: 0x%08x", op, uint32(code))
}

func (d *mvsDriver) Open(index int) (int, error) {
	var devices C.MV_CC_DEVICE_INFO_LIST
	C.memset(unsafe.Pointer(&devices), 0, C.sizeof_MV_CC_DEVICE_INFO_LIST)

	if ret := C.MV_CC_EnumDevices(C.MV_GIGE_DEVICE|C.MV_USB_DEVICE, &devices); ret != C.MV_OK {
		return 0, mvsErr("MV_CC_EnumDevices", ret)
	}
	if index < 0 || index >= int(devices.nDeviceNum) {
		return 0, xerrors.Errorf("index %d of %d: %w", index, int(devices.nDeviceNum), ErrDeviceNotFound)
	}

	if ret := C.MV_CC_CreateHandle(&d.handle, devices.pDeviceInfo[index]); ret != C.MV_OK {
		d.handle = nil
		return 0, mvsErr("MV_CC_CreateHandle", ret)
	}

	if ret := C.MV_CC_OpenDevice(d.handle, C.MV_ACCESS_Exclusive, 0); ret != C.MV_OK {
		d.Close()
		return 0, mvsErr("MV_CC_OpenDevice", ret)
	}

	var payload C.MVCC_INTVALUE
	key := C.CString("PayloadSize")
	defer C.free(unsafe.Pointer(key))
	if ret := C.MV_CC_GetIntValue(d.handle, key, &payload); ret != C.MV_OK {
		d.Close()
		return 0, mvsErr("MV_CC_GetIntValue(PayloadSize)", ret)
	}

	if ret := C.MV_CC_StartGrabbing(d.handle); ret != C.MV_OK {
		d.Close()
		return 0, mvsErr("MV_CC_StartGrabbing", ret)
	}
	d.grabbing = true

	return int(payload.nCurValue), nil
}

func (d *mvsDriver) Grab(buf []byte, timeout time.Duration) (GrabInfo, error) {
	if d.handle == nil || !d.grabbing {
		return GrabInfo{}, ErrDeviceNotOpen
	}
	if len(buf) == 0 {
		return GrabInfo{}, xerrors.New("empty grab buffer")
	}

	var info C.MV_FRAME_OUT_INFO_EX
	ret := C.MV_CC_GetOneFrameTimeout(
		d.handle,
		(*C.uchar)(unsafe.Pointer(&buf[0])),
		C.uint(len(buf)),
		&info,
		C.uint(timeout.Milliseconds()),
	)
	if ret != C.MV_OK {
		return GrabInfo{}, mvsErr("MV_CC_GetOneFrameTimeout", ret)
	}

	return GrabInfo{
		Width:     int(info.nWidth),
		Height:    int(info.nHeight),
		PixelType: PixelType(info.enPixelType),
		Length:    int(info.nFrameLen),
	}, nil
}

func (d *mvsDriver) Close() error {
	if d.handle == nil {
		return nil
	}

	var errs []error
	if d.grabbing {
		if ret := C.MV_CC_StopGrabbing(d.handle); ret != C.MV_OK {
			errs = append(errs, mvsErr("MV_CC_StopGrabbing", ret))
		}
		d.grabbing = false
	}
	if ret := C.MV_CC_CloseDevice(d.handle); ret != C.MV_OK {
		errs = append(errs, mvsErr("MV_CC_CloseDevice", ret))
	}
	if ret := C.MV_CC_DestroyHandle(d.handle); ret != C.MV_OK {
		errs = append(errs, mvsErr("MV_CC_DestroyHandle", ret))
	}
	d.handle = nil

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
