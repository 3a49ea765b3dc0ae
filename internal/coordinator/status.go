package coordinator

// Status — состояние submission на стороне клиента.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusSubmitting Status = "submitting"
	StatusNotifying  Status = "notifying"
	StatusSuccess    Status = "success"
	StatusPartial    Status = "partial"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal сообщает, завершён ли submission.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}
