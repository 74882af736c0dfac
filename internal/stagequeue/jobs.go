package stagequeue

// MetadataJob 元数据提取任务；图纸上传后按页扇出
type MetadataJob struct {
	UploadID       string `json:"uploadId"`
	SheetNumber    int    `json:"sheetNumber"`
	SheetKey       string `json:"sheetKey"`
	PlanID         string `json:"planId"`
	ProjectID      string `json:"projectId"`
	OrganizationID string `json:"organizationId"`
}

// TileJob 切片生成任务；元数据阶段完成后按页扇出
type TileJob struct {
	UploadID       string `json:"uploadId"`
	SheetNumber    int    `json:"sheetNumber"`
	SheetID        string `json:"sheetId"`
	SheetKey       string `json:"sheetKey"`
	PlanID         string `json:"planId"`
	ProjectID      string `json:"projectId"`
	OrganizationID string `json:"organizationId"`
	TotalSheets    int    `json:"totalSheets"`
}

// MarkerJob 标记检测任务；切片阶段完成后按页扇出。
// ValidSheets 为全图纸集中命名合规的页名，检测时用于跨页引用解析。
type MarkerJob struct {
	UploadID       string   `json:"uploadId"`
	SheetNumber    int      `json:"sheetNumber"`
	SheetID        string   `json:"sheetId"`
	SheetKey       string   `json:"sheetKey"`
	PlanID         string   `json:"planId"`
	ProjectID      string   `json:"projectId"`
	OrganizationID string   `json:"organizationId"`
	TotalSheets    int      `json:"totalSheets"`
	ValidSheets    []string `json:"validSheets"`
}
