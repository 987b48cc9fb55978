package services

import "time"

// Timeouts задает ограничения времени на одиночные вызовы внешних систем.
type Timeouts struct {
	Store    time.Duration `mapstructure:"store"`
	Identity time.Duration `mapstructure:"identity"`
	Compress time.Duration `mapstructure:"compress"`
	Storage  time.Duration `mapstructure:"storage"`
}

// DefaultTimeouts возвращает значения по умолчанию.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Store:    5 * time.Second,
		Identity: 5 * time.Second,
		Compress: 30 * time.Second,
		Storage:  30 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Store <= 0 {
		t.Store = d.Store
	}
	if t.Identity <= 0 {
		t.Identity = d.Identity
	}
	if t.Compress <= 0 {
		t.Compress = d.Compress
	}
	if t.Storage <= 0 {
		t.Storage = d.Storage
	}
	return t
}

// Clock возвращает текущее время. Подменяется в тестах.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

