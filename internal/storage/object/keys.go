package object

import "fmt"

// SheetRef 定位一张图纸的对象存储位置
type SheetRef struct {
	OrganizationID string
	ProjectID      string
	PlanID         string
	SheetNumber    int
}

// sheetRoot 图纸根前缀：organizations/{org}/projects/{project}/plans/{plan}/sheets/{n}
func (r SheetRef) sheetRoot() string {
	return fmt.Sprintf("organizations/%s/projects/%s/plans/%s/sheets/%d",
		r.OrganizationID, r.ProjectID, r.PlanID, r.SheetNumber)
}

// Root 图纸根前缀（切片服务的输出前缀）
func (r SheetRef) Root() string {
	return r.sheetRoot()
}

// PageKey 单页原始 PDF
func (r SheetRef) PageKey() string {
	return r.sheetRoot() + "/page.pdf"
}

// DziKey deep-zoom 清单，位于图纸根
func (r SheetRef) DziKey() string {
	return r.sheetRoot() + "/sheet.dzi"
}

// TileKey 指定层级的 jpg 瓦片
func (r SheetRef) TileKey(level, col, row int) string {
	return fmt.Sprintf("%s/tiles/%d/%d_%d.jpg", r.sheetRoot(), level, col, row)
}

// MarkersKey marker 检测产物
func (r SheetRef) MarkersKey() string {
	return r.sheetRoot() + "/markers.json"
}

// OriginalKey 上传的完整 PDF（plan 根下）
func OriginalKey(organizationID, projectID, planID string) string {
	return fmt.Sprintf("organizations/%s/projects/%s/plans/%s/original.pdf",
		organizationID, projectID, planID)
}
