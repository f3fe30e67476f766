package model

// UploadJob is one image waiting to be processed.
type UploadJob struct {
	FileName string
	Data     []byte
	Size     int64
}

// NewUploadJob wraps raw bytes received for fileName.
func NewUploadJob(fileName string, data []byte) UploadJob {
	return UploadJob{FileName: fileName, Data: data, Size: int64(len(data))}
}
