// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports an allocation plan as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/npu-affinity/pkg/allocator"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	descPlanAccelerators = iota
	descPoolCPUs
	descRoleCPUs
)

const (
	// RoleMain is the role label of main thread CPUs.
	RoleMain = "main"
	// RoleACL is the role label of the device-control thread CPU.
	RoleACL = "acl"
	// RoleRelease is the role label of the resource-release thread CPU.
	RoleRelease = "release"
)

var (
	descriptors = []*prometheus.Desc{
		descPlanAccelerators: prometheus.NewDesc(
			"npu_cpu_plan_accelerators",
			"Number of running accelerators in the CPU allocation plan.",
			[]string{
				"policy",
			},
			nil,
		),
		descPoolCPUs: prometheus.NewDesc(
			"npu_cpu_pool_cpus",
			"Number of CPUs in the pool of an accelerator.",
			[]string{
				"npu",
				"cpus",
			},
			nil,
		),
		descRoleCPUs: prometheus.NewDesc(
			"npu_cpu_role_cpus",
			"Number of CPUs assigned to a thread role of an accelerator.",
			[]string{
				"npu",
				"role",
				"cpus",
			},
			nil,
		),
	}

	log = logger.NewLogger("metrics")
)

// PlanCollector collects the metrics of an allocation plan.
type PlanCollector struct {
	plan *allocator.Plan
}

var _ prometheus.Collector = &PlanCollector{}

// NewPlanCollector creates a collector for the given plan.
func NewPlanCollector(plan *allocator.Plan) *PlanCollector {
	return &PlanCollector{plan: plan}
}

// Describe implements prometheus.Collector.
func (c *PlanCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PlanCollector) Collect(ch chan<- prometheus.Metric) {
	accels := c.plan.Accelerators()

	ch <- prometheus.MustNewConstMetric(
		descriptors[descPlanAccelerators],
		prometheus.GaugeValue,
		float64(len(accels)),
		string(c.plan.Policy()),
	)

	for _, id := range accels {
		npu := strconv.Itoa(id)
		pool := c.plan.Pool(id)
		ch <- prometheus.MustNewConstMetric(
			descriptors[descPoolCPUs],
			prometheus.GaugeValue,
			float64(len(pool)),
			npu,
			cpuset.FormatList(pool, ","),
		)

		roles, ok := c.plan.Roles(id)
		if !ok {
			continue
		}
		for _, r := range []struct {
			role string
			cpus []int
		}{
			{RoleMain, roles.Main},
			{RoleACL, []int{roles.ACL}},
			{RoleRelease, []int{roles.Release}},
		} {
			ch <- prometheus.MustNewConstMetric(
				descriptors[descRoleCPUs],
				prometheus.GaugeValue,
				float64(len(r.cpus)),
				npu,
				r.role,
				cpuset.New(r.cpus...).String(),
			)
		}
	}
}

// NewRegistry returns a registry with a collector for the given plan.
func NewRegistry(plan *allocator.Plan) (*prometheus.Registry, error) {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewPlanCollector(plan)); err != nil {
		return nil, err
	}
	return reg, nil
}

// WriteTextfile writes the metrics of the plan to path in the text format
// of the node exporter textfile collector.
func WriteTextfile(path string, plan *allocator.Plan) error {
	reg, err := NewRegistry(plan)
	if err != nil {
		return metricsError("failed to register plan collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return metricsError("failed to write %s: %w", path, err)
	}
	log.Info("wrote plan metrics to %s", path)
	return nil
}
