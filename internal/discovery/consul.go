package discovery

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/hashicorp/consul/api"
	"github.com/rs/zerolog"
)

// ServiceRegistry registers the gateway with Consul and resolves the
// services it depends on.
type ServiceRegistry struct {
	client      *api.Client
	serviceName string
	serviceID   string
	serviceHost string
	servicePort string
	log         zerolog.Logger
}

// NewServiceRegistry creates a new service registry.
func NewServiceRegistry(consulAddress, serviceName, serviceID, serviceHost, servicePort string, log zerolog.Logger) (*ServiceRegistry, error) {
	config := api.DefaultConfig()
	config.Address = consulAddress

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create Consul client: %w", err)
	}

	return &ServiceRegistry{
		client:      client,
		serviceName: serviceName,
		serviceID:   serviceID,
		serviceHost: serviceHost,
		servicePort: servicePort,
		log:         log.With().Str("component", "discovery").Logger(),
	}, nil
}

// Register registers the service with an HTTP health check.
func (sr *ServiceRegistry) Register() error {
	port, err := strconv.Atoi(sr.servicePort)
	if err != nil {
		return fmt.Errorf("invalid port: %s: %w", sr.servicePort, err)
	}

	registration := &api.AgentServiceRegistration{
		ID:      sr.serviceID,
		Name:    sr.serviceName,
		Address: sr.serviceHost,
		Port:    port,
		Tags:    []string{"exam", "attempt", "websocket"},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%s/health", sr.serviceHost, sr.servicePort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	if err := sr.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register service: %w", err)
	}

	sr.log.Info().Str("service", sr.serviceName).Str("id", sr.serviceID).Msg("Registered with Consul")
	return nil
}

// Deregister removes the service from Consul.
func (sr *ServiceRegistry) Deregister() error {
	if err := sr.client.Agent().ServiceDeregister(sr.serviceID); err != nil {
		return fmt.Errorf("deregister service: %w", err)
	}

	sr.log.Info().Str("service", sr.serviceName).Msg("Deregistered from Consul")
	return nil
}

// GetService returns host:port of a healthy instance of name.
func (sr *ServiceRegistry) GetService(name string) (string, error) {
	services, _, err := sr.client.Health().Service(name, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("get service: %w", err)
	}
	if len(services) == 0 {
		return "", fmt.Errorf("no healthy instances of service %s found", name)
	}

	service := services[0]
	address := service.Service.Address
	if address == "" {
		address = service.Node.Address
	}
	return fmt.Sprintf("%s:%d", address, service.Service.Port), nil
}

// ResolveURL turns consul://service/path into http://host:port/path.
// Other URLs are returned unchanged.
func (sr *ServiceRegistry) ResolveURL(raw string) (string, error) {
	return resolveURL(raw, sr.GetService)
}

func resolveURL(raw string, lookup func(string) (string, error)) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "consul" {
		return raw, nil
	}
	addr, err := lookup(u.Host)
	if err != nil {
		return "", err
	}
	u.Scheme = "http"
	u.Host = addr
	return u.String(), nil
}
