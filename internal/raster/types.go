package raster

// SheetMetadata 单页元数据提取结果
type SheetMetadata struct {
	SheetNumber int     `json:"sheetNumber"`
	Name        string  `json:"name"`  // 图框中的页名，如 A1、S2
	Title       string  `json:"title"` // 图纸标题栏文字
	WidthPt     float64 `json:"widthPt"`
	HeightPt    float64 `json:"heightPt"`
}

// TileResult 切片生成结果
type TileResult struct {
	DziKey    string `json:"dziKey"`
	MaxLevel  int    `json:"maxLevel"`
	TileCount int    `json:"tileCount"`
}

// Marker 检测到的标记（标注点、跨页引用等）
type Marker struct {
	Type        string  `json:"type"`
	Label       string  `json:"label"`
	TargetSheet string  `json:"targetSheet,omitempty"` // 引用指向的页名，仅跨页引用有值
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// MarkerResult 标记检测结果
type MarkerResult struct {
	MarkersKey string   `json:"markersKey"`
	Markers    []Marker `json:"markers"`
}
