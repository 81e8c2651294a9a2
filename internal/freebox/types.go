package freebox

import "encoding/json"

// VMStatus is the lifecycle state reported by the Freebox VM subsystem.
type VMStatus string

const (
	VMStatusStopped  VMStatus = "stopped"
	VMStatusRunning  VMStatus = "running"
	VMStatusStarting VMStatus = "starting"
	VMStatusStopping VMStatus = "stopping"
)

// VM is a read-only snapshot of a virtual machine record. Paths are
// base64-encoded by the Freebox filesystem API.
type VM struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	Status            VMStatus `json:"status"`
	OS                string   `json:"os,omitempty"`
	Mac               string   `json:"mac,omitempty"`
	VCPUs             int      `json:"vcpus,omitempty"`
	Memory            int64    `json:"memory,omitempty"`
	EnableScreen      bool     `json:"enable_screen,omitempty"`
	DiskPath          string   `json:"disk_path,omitempty"`
	DiskType          string   `json:"disk_type,omitempty"`
	CDPath            string   `json:"cd_path,omitempty"`
	BindUSBPorts      []string `json:"bind_usb_ports,omitempty"`
	EnableCloudInit   bool     `json:"enable_cloudinit,omitempty"`
	CloudInitHostname string   `json:"cloudinit_hostname,omitempty"`
	CloudInitUserData string   `json:"cloudinit_userdata,omitempty"`
}

// SystemInfo describes the VM host resources of the Freebox.
type SystemInfo struct {
	TotalMemory int64    `json:"total_memory"`
	UsedMemory  int64    `json:"used_memory"`
	TotalCPUs   int      `json:"total_cpus"`
	UsedCPUs    int      `json:"used_cpus"`
	USBUsed     bool     `json:"usb_used"`
	USBPorts    []string `json:"usb_ports"`
}

// DiskInfo is the result of a disk image inspection.
type DiskInfo struct {
	VirtualSize int64  `json:"virtual_size"`
	ActualSize  int64  `json:"actual_size"`
	Type        string `json:"type"`
}

// DiskTask identifies an asynchronous disk operation (create/resize). Its
// completion is announced on the event stream, not on the issuing request.
type DiskTask struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// DownloadTask is a download-manager task record, polled while a disk or
// CD image is fetched onto the Freebox.
type DownloadTask struct {
	ID          int64  `json:"id"`
	Status      string `json:"status"`
	Size        int64  `json:"size"`
	RxBytes     int64  `json:"rx_bytes"`
	Name        string `json:"name"`
	DownloadDir string `json:"download_dir"` // base64-encoded path
}

// Download task statuses observed while polling.
const (
	DownloadStatusDownloading = "downloading"
	DownloadStatusChecking    = "checking"
	DownloadStatusDone        = "done"
	DownloadStatusError       = "error"
)

// Distro is one installable distribution entry from the Freebox catalog.
type Distro struct {
	Name string `json:"name"`
	OS   string `json:"os"`
	URL  string `json:"url"`
	Hash string `json:"hash,omitempty"`
}

// AuthorizeRequest identifies this application to the Freebox when asking the
// owner to approve it.
type AuthorizeRequest struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	DeviceName string `json:"device_name"`
}

// TrackID identifies an authorization request. The device serializes it as a
// number but it is only ever used as an opaque path element.
type TrackID string

func (t *TrackID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = TrackID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = TrackID(s)
	return nil
}

// AuthorizeGrant is the durable credential issued in response to an
// authorization request.
type AuthorizeGrant struct {
	AppToken string  `json:"app_token"`
	TrackID  TrackID `json:"track_id"`
}

// AuthorizationStatus is the state of a pending authorization request.
type AuthorizationStatus string

const (
	AuthorizationPending AuthorizationStatus = "pending"
	AuthorizationGranted AuthorizationStatus = "granted"
	AuthorizationDenied  AuthorizationStatus = "denied"
	AuthorizationTimeout AuthorizationStatus = "timeout"
	AuthorizationUnknown AuthorizationStatus = "unknown"
)

// AuthorizeTrack is the polled view of an authorization request. The
// challenge is only meaningful once the request has been granted.
type AuthorizeTrack struct {
	Status    AuthorizationStatus `json:"status"`
	Challenge string              `json:"challenge"`
}

// DiskCreateRequest creates a new disk image on the Freebox.
type DiskCreateRequest struct {
	DiskPath string `json:"disk_path"` // base64-encoded
	Size     int64  `json:"size"`
	DiskType string `json:"disk_type"`
}

// DiskResizeRequest grows (or, when ShrinkAllow is set, shrinks) a disk image.
type DiskResizeRequest struct {
	DiskPath    string `json:"disk_path"` // base64-encoded
	Size        int64  `json:"size"`
	ShrinkAllow bool   `json:"shrink_allow"`
}

// DownloadRequest submits a URL to the Freebox download manager.
type DownloadRequest struct {
	DownloadURL string
	DownloadDir string // base64-encoded, optional
	Filename    string // optional
	Hash        string // optional checksum URL or digest
}
