package tsch

import (
	"fmt"

	"github.com/ineffectivecoder/tschexec/pkg/ndr"
)

// encodeRegisterTask encodes SchRpcRegisterTask:
// path (LPWSTR), xml (WSTR), flags, sddl (LPWSTR), logonType, cCreds, pCreds
func encodeRegisterTask(path, xml string, flags, logonType uint32) []byte {
	w := ndr.NewWriter()
	w.WriteLPWString(path)
	w.WriteWString(xml)
	w.WriteUint32(flags)
	w.WriteNullPointer() // sddl
	w.WriteUint32(logonType)
	w.WriteUint32(0)     // cCreds
	w.WriteNullPointer() // pCreds
	return w.Bytes()
}

// encodeRun encodes SchRpcRun: path, cArgs, pArgs, flags, sessionId, user
func encodeRun(path string) []byte {
	w := ndr.NewWriter()
	w.WriteWString(path)
	w.WriteUint32(0) // cArgs
	w.WriteNullPointer()
	w.WriteUint32(0) // flags
	w.WriteUint32(0) // sessionId
	w.WriteNullPointer()
	return w.Bytes()
}

// encodePathFlags encodes SchRpcDelete: path, flags
func encodePathFlags(path string, flags uint32) []byte {
	w := ndr.NewWriter()
	w.WriteWString(path)
	w.WriteUint32(flags)
	return w.Bytes()
}

// encodeGetLastRunInfo encodes SchRpcGetLastRunInfo: path
func encodeGetLastRunInfo(path string) []byte {
	w := ndr.NewWriter()
	w.WriteWString(path)
	return w.Bytes()
}

// encodeEnum encodes SchRpcEnumTasks/SchRpcEnumFolders:
// path, flags, startIndex, cRequested
func encodeEnum(path string, flags, startIndex, requested uint32) []byte {
	w := ndr.NewWriter()
	w.WriteWString(path)
	w.WriteUint32(flags)
	w.WriteUint32(startIndex)
	w.WriteUint32(requested)
	return w.Bytes()
}

// trailingHResult returns the HRESULT every response ends with
func trailingHResult(resp []byte) (uint32, error) {
	if len(resp) < 4 {
		return 0, fmt.Errorf("response too short: %d bytes", len(resp))
	}
	r := ndr.NewReader(resp[len(resp)-4:])
	return r.ReadUint32()
}

// parseRegisterResponse reads pActualPath. pErrorInfo and the HRESULT
// follow and are handled by the caller.
func parseRegisterResponse(resp []byte) (string, error) {
	r := ndr.NewReader(resp)
	ok, err := r.ReadPointer()
	if err != nil || !ok {
		return "", err
	}
	return r.ReadConformantString()
}

// parseLastRunInfo reads SYSTEMTIME pLastRuntime and pLastReturnCode
func parseLastRunInfo(resp []byte) (LastRunInfo, error) {
	var info LastRunInfo
	r := ndr.NewReader(resp)
	fields := []*uint16{
		&info.LastRuntime.Year, &info.LastRuntime.Month, &info.LastRuntime.DayOfWeek,
		&info.LastRuntime.Day, &info.LastRuntime.Hour, &info.LastRuntime.Minute,
		&info.LastRuntime.Second, &info.LastRuntime.Milliseconds,
	}
	for _, f := range fields {
		v, err := r.ReadUint16()
		if err != nil {
			return info, fmt.Errorf("failed to parse last run time: %w", err)
		}
		*f = v
	}
	code, err := r.ReadUint32()
	if err != nil {
		return info, fmt.Errorf("failed to parse last return code: %w", err)
	}
	info.LastReturnCode = code
	return info, nil
}

// parseEnumResponse reads pStartIndex, pcNames and the TASK_NAMES_ARRAY
func parseEnumResponse(resp []byte) (names []string, next uint32, err error) {
	r := ndr.NewReader(resp)
	if next, err = r.ReadUint32(); err != nil {
		return nil, 0, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return nil, 0, err
	}
	ok, err := r.ReadPointer()
	if err != nil || !ok || count == 0 {
		return nil, next, err
	}

	size, err := r.ReadUint32()
	if err != nil {
		return nil, 0, err
	}
	if size < count || int(count) > r.Remaining()/4 {
		return nil, 0, fmt.Errorf("name array holds %d of %d names", size, count)
	}

	// referents first, then the deferred strings for the non-null ones
	present := make([]bool, count)
	for i := range present {
		if present[i], err = r.ReadPointer(); err != nil {
			return nil, 0, err
		}
	}
	for _, p := range present {
		if !p {
			continue
		}
		s, err := r.ReadConformantString()
		if err != nil {
			return names, next, err
		}
		names = append(names, s)
	}
	return names, next, nil
}
