package cache

import (
	"errors"

	"gorm.io/gorm"

	"sitedeploy/internal/registry"
)

// RegistrySource adapts *registry.Registry to RouteSource.
type RegistrySource struct {
	Registry *registry.Registry
}

func (s RegistrySource) GetRouteBySubdomain(subdomain string) (int, bool, error) {
	route, err := s.Registry.GetRouteBySubdomain(subdomain)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return route.TargetPort, true, nil
}
