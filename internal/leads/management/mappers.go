package management

import (
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/transport"
)

func ToLeadResponse(lead repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:            lead.ID,
		FirstName:     lead.FirstName,
		LastName:      lead.LastName,
		Email:         lead.Email,
		Phone:         lead.Phone,
		CompanyName:   lead.CompanyName,
		Region:        lead.Region,
		RequiredSkill: lead.RequiredSkill,
		Source:        lead.Source,
		Status:        string(lead.Status),
		Score:         lead.Score,
		AssignedTo:    lead.AssignedTo,
		IsActive:      lead.IsActive,
		CreatedAt:     lead.CreatedAt,
		UpdatedAt:     lead.UpdatedAt,
	}
}

func ToLeadListResponse(leads []repository.Lead, total, page, pageSize int) transport.LeadListResponse {
	items := make([]transport.LeadResponse, len(leads))
	for i, lead := range leads {
		items[i] = ToLeadResponse(lead)
	}
	return transport.LeadListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}
