package models

type Project struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}
