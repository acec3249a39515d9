package models

// AssetFile is an image queued for upload by the booking form.
type AssetFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadedAsset describes a file that reached object storage.
type UploadedAsset struct {
	OriginalName string `json:"original_name"`
	StoragePath  string `json:"storage_path"`
	PublicURL    string `json:"public_url"`
}
