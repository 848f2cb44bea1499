package catalog

import (
	"context"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// Repository defines the interface for catalog data operations.
type Repository interface {
	CreateService(ctx context.Context, service *domain.Service) error
	GetServiceByID(ctx context.Context, id string) (*domain.Service, error)
	ListServices(ctx context.Context, organizationID string) ([]domain.Service, error)
	UpdateService(ctx context.Context, service *domain.Service) error
	UpdateServiceStatus(ctx context.Context, id string, status domain.ServiceStatus) error
	DeleteService(ctx context.Context, id string) error
}
